package lockdao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
)

const (
	lockPrefix = "lock"
	lockSK     = "LOCK"
	lockTTL    = time.Hour // DynamoDB TTL removes locks left by killed processes
)

// PK represents the partition key: lock/{configuration id}
// The prefix keeps lock items out of release ledger queries sharing the table.
type PK string

// NewPK creates a partition key for a configuration id
func NewPK(configurationID string) PK {
	return PK(fmt.Sprintf("%s/%s", lockPrefix, configurationID))
}

// ParsePK returns the configuration id locked by pk
func ParsePK(pk PK) (string, error) {
	id, ok := strings.CutPrefix(string(pk), lockPrefix+"/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("invalid PK format: %s, expected %s/{configuration id}", pk, lockPrefix)
	}
	return id, nil
}

func (pk PK) String() string {
	return string(pk)
}

// Record represents a publish lock
type Record struct {
	PK           PK     `ddb:"hash" dynamodbav:"pk"`  // lock/{configuration id}
	SK           string `ddb:"range" dynamodbav:"sk"` // Always "LOCK"
	DeploymentID string `dynamodbav:"deployment_id"`  // KSUID of the deploy holding the lock
	AcquiredAt   int64  `dynamodbav:"acquired_at"`    // Unix timestamp when lock was acquired
	TTL          int64  `dynamodbav:"ttl"`            // Unix timestamp for DynamoDB TTL expiry
}

// DAO provides data access operations for publish locks
type DAO struct {
	table *ddb.Table
	now   func() time.Time
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	return &DAO{
		table: db.MustTable(tableName, &Record{}),
		now:   time.Now,
	}
}

// Acquire takes the lock on configurationID for deploymentID.
// Returns false when another unexpired deploy holds it.
func (d *DAO) Acquire(ctx context.Context, configurationID, deploymentID string) (bool, error) {
	existing, err := d.Find(ctx, configurationID)
	if err != nil {
		return false, fmt.Errorf("failed to check existing lock: %w", err)
	}

	now := d.now()
	if existing != nil && existing.DeploymentID != deploymentID && existing.TTL > now.Unix() {
		return false, nil
	}

	record := &Record{
		PK:           NewPK(configurationID),
		SK:           lockSK,
		DeploymentID: deploymentID,
		AcquiredAt:   now.Unix(),
		TTL:          now.Add(lockTTL).Unix(),
	}
	if err := d.table.Put(record).RunWithContext(ctx); err != nil {
		return false, fmt.Errorf("failed to create lock: %w", err)
	}

	return true, nil
}

// Find returns the lock on configurationID, or nil if there is none
func (d *DAO) Find(ctx context.Context, configurationID string) (*Record, error) {
	var record Record
	err := d.table.Get(NewPK(configurationID).String()).
		Range(lockSK).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return nil, nil
	}
	return &record, nil
}

// Release removes the lock if deploymentID still holds it
func (d *DAO) Release(ctx context.Context, configurationID, deploymentID string) error {
	existing, err := d.Find(ctx, configurationID)
	if err != nil {
		return fmt.Errorf("failed to check lock: %w", err)
	}
	if existing == nil {
		return nil
	}
	if existing.DeploymentID != deploymentID {
		return fmt.Errorf("lock on %s not held by %s (held by %s)", configurationID, deploymentID, existing.DeploymentID)
	}

	err = d.table.Delete(NewPK(configurationID).String()).
		Range(lockSK).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}
	return nil
}

package releasedao

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	otaerrors "github.com/savaki/iothub-ota/internal/errors"
)

const (
	releasePrefix = "release"

	// separators used by PK and ID, not allowed in product or group
	reservedChars = "/:"
)

// PK represents a DynamoDB partition key in format release/{product}/{group}
// Example: release/thermostat/fleetA
// The prefix keeps release items apart from lock items sharing the table.
type PK string

// NewPK creates a new partition key from product and group
func NewPK(product, group string) PK {
	return PK(fmt.Sprintf("%s/%s/%s", releasePrefix, product, group))
}

// ParsePK parses a partition key into its product and group components
func ParsePK(pk PK) (product, group string, err error) {
	rest, ok := strings.CutPrefix(string(pk), releasePrefix+"/")
	if !ok || strings.Contains(rest, ":") {
		return "", "", fmt.Errorf("invalid PK format: %s, expected %s/{product}/{group}", pk, releasePrefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid PK format: %s, expected %s/{product}/{group}", pk, releasePrefix)
	}
	return parts[0], parts[1], nil
}

func (pk PK) String() string {
	return string(pk)
}

// ValidateKeyPart reports an error when value cannot be used as a product or group
func ValidateKeyPart(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if strings.ContainsAny(value, reservedChars) {
		return fmt.Errorf("%s must not contain '/' or ':': %s", name, value)
	}
	return nil
}

// ID identifies a release as release/{product}/{group}:{deployment id}
type ID string

func (id ID) String() string {
	return string(id)
}

// NewID constructs an ID from partition key and sort key
func NewID(pk PK, sk string) ID {
	return ID(fmt.Sprintf("%s:%s", pk, sk))
}

// ParseID splits id into its partition and sort keys
func ParseID(id ID) (pk PK, sk string, err error) {
	parts := strings.Split(string(id), ":")
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid release ID format: %s, expected %s/{product}/{group}:{ksuid}", id, releasePrefix)
	}
	if _, _, err := ParsePK(PK(parts[0])); err != nil {
		return "", "", err
	}
	return PK(parts[0]), parts[1], nil
}

// Record is a published firmware release
type Record struct {
	PK              PK     `ddb:"hash" dynamodbav:"pk"`  // {product}/{group}
	SK              string `ddb:"range" dynamodbav:"sk"` // deployment id, a KSUID
	Product         string `dynamodbav:"product,omitempty"`
	Group           string `dynamodbav:"group,omitempty"`
	Version         int    `dynamodbav:"version,omitempty"`
	ConfigurationID string `dynamodbav:"configuration_id,omitempty"`
	Container       string `dynamodbav:"container,omitempty"`
	Blob            string `dynamodbav:"blob,omitempty"`
	URL             string `dynamodbav:"url,omitempty"`
	Size            int64  `dynamodbav:"size,omitempty"`
	SHA256          string `dynamodbav:"sha256,omitempty"`
	Forced          bool   `dynamodbav:"forced,omitempty"`
	CreatedAt       int64  `dynamodbav:"created_at,omitempty"` // Unix epoch seconds
	ExpiresAt       int64  `dynamodbav:"expires_at,omitempty"` // SAS expiry, Unix epoch seconds
}

// CreateInput contains the fields needed to record a release
type CreateInput struct {
	Product         string
	Group           string
	DeploymentID    string // KSUID sort key
	Version         int
	ConfigurationID string
	Container       string
	Blob            string
	URL             string
	Size            int64
	SHA256          string
	Forced          bool
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// DAO provides data access operations for release records
type DAO struct {
	table *ddb.Table
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	return &DAO{
		table: db.MustTable(tableName, &Record{}),
	}
}

// Create stores a release record
func (d *DAO) Create(ctx context.Context, input CreateInput) (Record, error) {
	if input.DeploymentID == "" {
		return Record{}, fmt.Errorf("deployment id is required")
	}
	if err := ValidateKeyPart("product", input.Product); err != nil {
		return Record{}, err
	}
	if err := ValidateKeyPart("group", input.Group); err != nil {
		return Record{}, err
	}
	if strings.Contains(input.DeploymentID, ":") {
		return Record{}, fmt.Errorf("deployment id must not contain ':': %s", input.DeploymentID)
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	record := Record{
		PK:              NewPK(input.Product, input.Group),
		SK:              input.DeploymentID,
		Product:         input.Product,
		Group:           input.Group,
		Version:         input.Version,
		ConfigurationID: input.ConfigurationID,
		Container:       input.Container,
		Blob:            input.Blob,
		URL:             input.URL,
		Size:            input.Size,
		SHA256:          input.SHA256,
		Forced:          input.Forced,
		CreatedAt:       createdAt.Unix(),
		ExpiresAt:       input.ExpiresAt.Unix(),
	}

	if err := d.table.Put(&record).RunWithContext(ctx); err != nil {
		return Record{}, fmt.Errorf("failed to create release record: %w", err)
	}

	return record, nil
}

// Find retrieves a release record by ID
func (d *DAO) Find(ctx context.Context, id ID) (Record, error) {
	pk, sk, err := ParseID(id)
	if err != nil {
		return Record{}, err
	}

	var record Record
	err = d.table.Get(pk.String()).
		Range(sk).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return Record{}, fmt.Errorf("%w: %s", otaerrors.ErrReleaseNotFound, id)
		}
		return Record{}, fmt.Errorf("failed to find release record: %w", err)
	}
	if record.PK == "" && record.SK == "" {
		return Record{}, fmt.Errorf("%w: %s", otaerrors.ErrReleaseNotFound, id)
	}

	return record, nil
}

// FindByProductGroup retrieves the release deploymentID of product/group
func (d *DAO) FindByProductGroup(ctx context.Context, product, group, deploymentID string) (Record, error) {
	return d.Find(ctx, NewID(NewPK(product, group), deploymentID))
}

// Query returns the releases of a product/group, newest first
func (d *DAO) Query(ctx context.Context, pk PK) ([]Record, error) {
	var records []Record

	err := d.table.Query("#PK = ?", pk.String()).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}

	SortNewestFirst(records)
	return records, nil
}

// QueryByProductGroup returns the releases of product/group, newest first
func (d *DAO) QueryByProductGroup(ctx context.Context, product, group string) ([]Record, error) {
	return d.Query(ctx, NewPK(product, group))
}

// SortNewestFirst orders records by descending sort key. KSUIDs sort by creation time.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SK > records[j].SK
	})
}

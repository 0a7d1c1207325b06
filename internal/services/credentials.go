package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	"github.com/savaki/iothub-ota/internal/connstr"
	otaerrors "github.com/savaki/iothub-ota/internal/errors"
)

const (
	StorageConnectionStringEnv = "AZURE_STORAGE_CONNECTIONSTRING"
	HubConnectionStringEnv     = "AZURE_IOTHUB_CONNECTIONSTRING"

	storageParameter = "storage-connection-string"
	hubParameter     = "iothub-connection-string"
)

// Credentials holds the parsed connection strings for both Azure services
type Credentials struct {
	Storage connstr.Storage
	Hub     connstr.Hub
}

// CredentialStore defines the interface for resolving connection strings
type CredentialStore interface {
	// GetParameter retrieves a single raw value by name
	GetParameter(ctx context.Context, name string) (string, error)

	// GetCredentials resolves and parses both connection strings
	GetCredentials(ctx context.Context) (Credentials, error)
}

// ParseCredentials parses raw storage and hub connection strings.
func ParseCredentials(storage, hub string) (Credentials, error) {
	s, err := connstr.ParseStorage(storage)
	if err != nil {
		return Credentials{}, fmt.Errorf("storage connection string: %w", err)
	}
	h, err := connstr.ParseHub(hub)
	if err != nil {
		return Credentials{}, fmt.Errorf("iothub connection string: %w", err)
	}
	return Credentials{Storage: s, Hub: h}, nil
}

// EnvCredentialStore reads connection strings from environment variables
type EnvCredentialStore struct {
	lookup func(string) (string, bool)
}

// NewEnvCredentialStore creates a new environment variable-backed credential store
func NewEnvCredentialStore() *EnvCredentialStore {
	return &EnvCredentialStore{lookup: os.LookupEnv}
}

// GetParameter returns the named environment variable or ErrCredentialMissing
func (e *EnvCredentialStore) GetParameter(_ context.Context, name string) (string, error) {
	value, ok := e.lookup(name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", otaerrors.ErrCredentialMissing, name)
	}
	return value, nil
}

// GetCredentials reads AZURE_STORAGE_CONNECTIONSTRING and AZURE_IOTHUB_CONNECTIONSTRING
func (e *EnvCredentialStore) GetCredentials(ctx context.Context) (Credentials, error) {
	storage, err := e.GetParameter(ctx, StorageConnectionStringEnv)
	if err != nil {
		return Credentials{}, err
	}
	hub, err := e.GetParameter(ctx, HubConnectionStringEnv)
	if err != nil {
		return Credentials{}, err
	}
	return ParseCredentials(storage, hub)
}

// SSMAPI is the subset of the SSM client used by SSMCredentialStore
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMCredentialStore reads connection strings from AWS Systems Manager Parameter Store.
// Parameters live under path as {path}/storage-connection-string and
// {path}/iothub-connection-string, stored as SecureString.
type SSMCredentialStore struct {
	client SSMAPI
	path   string
	mu     sync.RWMutex
	cache  map[string]string
}

// NewSSMCredentialStore creates a new SSM-backed credential store
func NewSSMCredentialStore(client SSMAPI, path string) *SSMCredentialStore {
	return &SSMCredentialStore{
		client: client,
		path:   strings.TrimRight(path, "/"),
		cache:  make(map[string]string),
	}
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMCredentialStore) GetParameter(ctx context.Context, name string) (string, error) {
	// Check cache first
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ParameterNotFound" {
			return "", fmt.Errorf("%w: parameter %s not found", otaerrors.ErrCredentialMissing, name)
		}
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("%w: parameter %s has no value", otaerrors.ErrCredentialMissing, name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

// GetCredentials loads both connection strings from {path}/...
func (s *SSMCredentialStore) GetCredentials(ctx context.Context) (Credentials, error) {
	storage, err := s.GetParameter(ctx, s.path+"/"+storageParameter)
	if err != nil {
		return Credentials{}, err
	}
	hub, err := s.GetParameter(ctx, s.path+"/"+hubParameter)
	if err != nil {
		return Credentials{}, err
	}
	return ParseCredentials(storage, hub)
}

func boolPtr(b bool) *bool {
	return &b
}

package services

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
	otaerrors "github.com/savaki/iothub-ota/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testStorageConnectionString = "DefaultEndpointsProtocol=https;AccountName=acme;AccountKey=a2V5a2V5a2V5;EndpointSuffix=core.windows.net"
	testHubConnectionString     = "HostName=acme.azure-devices.net;SharedAccessKeyName=iothubowner;SharedAccessKey=c2VjcmV0c2VjcmV0"
)

func envStore(env map[string]string) *EnvCredentialStore {
	return &EnvCredentialStore{
		lookup: func(name string) (string, bool) {
			v, ok := env[name]
			return v, ok
		},
	}
}

func TestEnvCredentialStore_GetCredentials(t *testing.T) {
	store := envStore(map[string]string{
		StorageConnectionStringEnv: testStorageConnectionString,
		HubConnectionStringEnv:     testHubConnectionString,
	})

	creds, err := store.GetCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acme", creds.Storage.AccountName)
	assert.Equal(t, "https://acme.blob.core.windows.net", creds.Storage.BlobEndpoint)
	assert.Equal(t, "acme.azure-devices.net", creds.Hub.HostName)
	assert.Equal(t, "iothubowner", creds.Hub.SharedAccessKeyName)
}

func TestEnvCredentialStore_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{
			name:    "storage missing",
			env:     map[string]string{HubConnectionStringEnv: testHubConnectionString},
			wantErr: otaerrors.ErrCredentialMissing,
		},
		{
			name: "hub blank",
			env: map[string]string{
				StorageConnectionStringEnv: testStorageConnectionString,
				HubConnectionStringEnv:     "  ",
			},
			wantErr: otaerrors.ErrCredentialMissing,
		},
		{
			name: "storage malformed",
			env: map[string]string{
				StorageConnectionStringEnv: "AccountName=acme",
				HubConnectionStringEnv:     testHubConnectionString,
			},
			wantErr: otaerrors.ErrConnectionString,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := envStore(tt.env).GetCredentials(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

type mockSSMClient struct {
	calls            int
	getParameterFunc func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func (m *mockSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	m.calls++
	return m.getParameterFunc(ctx, params, optFns...)
}

func TestSSMCredentialStore_GetCredentials(t *testing.T) {
	values := map[string]string{
		"/prd/ota/storage-connection-string": testStorageConnectionString,
		"/prd/ota/iothub-connection-string":  testHubConnectionString,
	}
	client := &mockSSMClient{
		getParameterFunc: func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			assert.True(t, aws.ToBool(params.WithDecryption))
			value, ok := values[aws.ToString(params.Name)]
			if !ok {
				return nil, &smithy.GenericAPIError{Code: "ParameterNotFound", Message: "not found"}
			}
			return &ssm.GetParameterOutput{
				Parameter: &ssmtypes.Parameter{Value: aws.String(value)},
			}, nil
		},
	}

	store := NewSSMCredentialStore(client, "/prd/ota/")
	creds, err := store.GetCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acme", creds.Storage.AccountName)
	assert.Equal(t, "acme.azure-devices.net", creds.Hub.HostName)

	// Second resolution is served from cache
	_, err = store.GetCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
}

func TestSSMCredentialStore_Errors(t *testing.T) {
	t.Run("parameter not found", func(t *testing.T) {
		client := &mockSSMClient{
			getParameterFunc: func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
				return nil, &smithy.GenericAPIError{Code: "ParameterNotFound"}
			},
		}
		_, err := NewSSMCredentialStore(client, "/dev/ota").GetCredentials(context.Background())
		assert.ErrorIs(t, err, otaerrors.ErrCredentialMissing)
	})

	t.Run("access denied is not a missing credential", func(t *testing.T) {
		client := &mockSSMClient{
			getParameterFunc: func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
				return nil, &smithy.GenericAPIError{Code: "AccessDeniedException"}
			},
		}
		_, err := NewSSMCredentialStore(client, "/dev/ota").GetCredentials(context.Background())
		require.Error(t, err)
		assert.False(t, errors.Is(err, otaerrors.ErrCredentialMissing))
	})
}

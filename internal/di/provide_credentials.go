package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/savaki/iothub-ota/internal/services"
)

// ProvideCredentialStore uses SSM Parameter Store when --ssm-path is set, otherwise environment variables
func ProvideCredentialStore(ctx context.Context, ssmClient *ssm.Client, path SSMPath) services.CredentialStore {
	logger := zerolog.Ctx(ctx)

	if ssmClient == nil {
		logger.Debug().Msg("reading connection strings from environment variables")
		return services.NewEnvCredentialStore()
	}

	logger.Debug().Str("path", string(path)).Msg("reading connection strings from ssm parameter store")
	return services.NewSSMCredentialStore(ssmClient, string(path))
}

// ProvideCredentials resolves both connection strings once per process
func ProvideCredentials(ctx context.Context, store services.CredentialStore) (services.Credentials, error) {
	creds, err := store.GetCredentials(ctx)
	if err != nil {
		return services.Credentials{}, fmt.Errorf("failed to load credentials: %w", err)
	}

	zerolog.Ctx(ctx).Debug().
		Stringer("storage", creds.Storage).
		Stringer("iothub", creds.Hub).
		Msg("credentials loaded")

	return creds, nil
}

package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// loadAWSConfig is replaced in tests
var loadAWSConfig = func(ctx context.Context) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx)
}

// ProvideAWSConfig loads the shared AWS configuration once per container.
// Returns a zero config when neither --ssm-path nor --ledger-table is set so
// runs that only talk to Azure never read AWS settings.
func ProvideAWSConfig(ctx context.Context, path SSMPath, table LedgerTable) (aws.Config, error) {
	if path == "" && table == "" {
		return aws.Config{}, nil
	}

	cfg, err := loadAWSConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return cfg, nil
}

// ProvideSSMClient provides an SSM client for Parameter Store access.
// Returns nil when no --ssm-path is set.
func ProvideSSMClient(cfg aws.Config, path SSMPath) *ssm.Client {
	if path == "" {
		return nil
	}
	return ssm.NewFromConfig(cfg)
}

// ProvideDynamoDB returns nil when the release ledger is disabled
func ProvideDynamoDB(cfg aws.Config, table LedgerTable) *dynamodb.Client {
	if table == "" {
		return nil
	}
	return dynamodb.NewFromConfig(cfg)
}

package di

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/savaki/iothub-ota/internal/dao/lockdao"
	"github.com/savaki/iothub-ota/internal/deployer"
	"github.com/savaki/iothub-ota/internal/services"
)

func ProvideBlobStore(ctx context.Context, creds services.Credentials) (services.BlobStore, error) {
	return services.NewBlobService(creds.Storage, *zerolog.Ctx(ctx), nil)
}

func ProvideHubClient(ctx context.Context, creds services.Credentials) (services.HubClient, error) {
	return services.NewHubService(creds.Hub, *zerolog.Ctx(ctx), nil)
}

func ProvideDeployer(blobs services.BlobStore, hub services.HubClient, ledger deployer.Ledger, locks *lockdao.DAO) *deployer.Deployer {
	var opts []deployer.Option
	if ledger != nil {
		opts = append(opts, deployer.WithLedger(ledger))
	}
	if locks != nil {
		opts = append(opts, deployer.WithLocker(locks))
	}
	return deployer.New(blobs, hub, opts...)
}

package di

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/iothub-ota/internal/dao/lockdao"
	"github.com/savaki/iothub-ota/internal/dao/releasedao"
	"github.com/savaki/iothub-ota/internal/deployer"
)

func ProvideReleaseDAO(table LedgerTable, client *dynamodb.Client) *releasedao.DAO {
	if table == "" || client == nil {
		return nil
	}
	return releasedao.New(client, string(table))
}

// ProvideLedger exposes the release DAO as a deployer.Ledger, or a nil
// interface when the ledger is disabled.
func ProvideLedger(dao *releasedao.DAO) deployer.Ledger {
	if dao == nil {
		return nil
	}
	return dao
}

// ProvideLockDAO stores publish locks in the ledger table
func ProvideLockDAO(table LedgerTable, client *dynamodb.Client) *lockdao.DAO {
	if table == "" || client == nil {
		return nil
	}
	return lockdao.New(client, string(table))
}

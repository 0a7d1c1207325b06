package lockdao

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	"github.com/savaki/ddb/v2/ddbtest"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPK(t *testing.T) {
	tests := []struct {
		name    string
		pk      PK
		want    string
		wantErr bool
	}{
		{name: "valid", pk: NewPK("ota_v3"), want: "ota_v3"},
		{name: "missing prefix", pk: PK("ota_v3"), wantErr: true},
		{name: "empty id", pk: PK("lock/"), wantErr: true},
		{name: "nested", pk: PK("lock/a/b"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePK(tt.pk)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "lock/ota_v3", NewPK("ota_v3").String())
}

type Data struct {
	DAO *DAO
}

func setup(t *testing.T) (ctx context.Context, data Data, cleanup func()) {
	ctx = context.Background()

	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion("us-west-2"),
		config.WithBaseEndpoint(os.Getenv("DYNAMODB_ENDPOINT")),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("blah", "blah", ""),
		),
	)
	require.NoError(t, err)

	var (
		client    = dynamodb.NewFromConfig(cfg)
		db        = ddb.New(client)
		tableName = fmt.Sprintf("locks-test-%v", ksuid.New().String())
		table     = db.MustTable(tableName, Record{})
		dao       = New(client, tableName)
	)

	err = table.CreateTableIfNotExists(ctx)
	require.NoError(t, err)

	return ctx, Data{DAO: dao}, func() {
		_ = table.DeleteTableIfExists(ctx)
	}
}

func TestDAO(t *testing.T) {
	if os.Getenv("DYNAMODB_ENDPOINT") == "" {
		t.Skip("DYNAMODB_ENDPOINT not set, skipping DynamoDB integration test")
	}

	ddbtest.WithTable[Data](t, setup, func(t *testing.T, ctx context.Context, data Data) {
		dao := data.DAO
		first := ksuid.New().String()
		second := ksuid.New().String()

		t.Run("Acquire", func(t *testing.T) {
			ok, err := dao.Acquire(ctx, "ota_v3", first)
			require.NoError(t, err)
			assert.True(t, ok)

			record, err := dao.Find(ctx, "ota_v3")
			require.NoError(t, err)
			require.NotNil(t, record)
			assert.Equal(t, first, record.DeploymentID)
		})

		t.Run("Acquire_Held", func(t *testing.T) {
			ok, err := dao.Acquire(ctx, "ota_v3", second)
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run("Acquire_Reentrant", func(t *testing.T) {
			ok, err := dao.Acquire(ctx, "ota_v3", first)
			require.NoError(t, err)
			assert.True(t, ok)
		})

		t.Run("Release_WrongHolder", func(t *testing.T) {
			assert.Error(t, dao.Release(ctx, "ota_v3", second))
		})

		t.Run("Release", func(t *testing.T) {
			require.NoError(t, dao.Release(ctx, "ota_v3", first))

			record, err := dao.Find(ctx, "ota_v3")
			require.NoError(t, err)
			assert.Nil(t, record)

			// releasing twice is a no-op
			assert.NoError(t, dao.Release(ctx, "ota_v3", first))
		})

		t.Run("Acquire_Expired", func(t *testing.T) {
			ok, err := dao.Acquire(ctx, "ota_v4", first)
			require.NoError(t, err)
			require.True(t, ok)

			dao.now = func() time.Time { return time.Now().Add(2 * lockTTL) }
			defer func() { dao.now = time.Now }()

			ok, err = dao.Acquire(ctx, "ota_v4", second)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	})
}

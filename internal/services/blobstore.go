package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/rs/zerolog"
	"github.com/savaki/iothub-ota/internal/connstr"
	otaerrors "github.com/savaki/iothub-ota/internal/errors"
)

const firmwareContentType = "application/octet-stream"

// BlobStore uploads firmware images and signs access to them
type BlobStore interface {
	// Upload writes the file at path to container under its base name, replacing any existing blob
	Upload(ctx context.Context, container, path string, metadata map[string]string) error

	// BlobURL returns the public URL of a blob, without any SAS
	BlobURL(container, name string) string

	// ContainerSAS returns a read+list container SAS query string expiring at expiry
	ContainerSAS(container string, expiry time.Time) (string, error)
}

type blobService struct {
	client     *azblob.Client
	credential *azblob.SharedKeyCredential
	endpoint   string
	logger     zerolog.Logger
}

// NewBlobService creates a blob store for the storage account in creds.
// options may be nil; tests use it to replace the transport.
func NewBlobService(creds connstr.Storage, logger zerolog.Logger, options *azblob.ClientOptions) (BlobStore, error) {
	credential, err := azblob.NewSharedKeyCredential(creds.AccountName, creds.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid storage account key: %w", otaerrors.ErrConnectionString, err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(creds.BlobEndpoint+"/", credential, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &blobService{
		client:     client,
		credential: credential,
		endpoint:   creds.BlobEndpoint,
		logger:     logger.With().Str("service", "blob").Logger(),
	}, nil
}

// Upload implements BlobStore
func (s *blobService) Upload(ctx context.Context, container, path string, metadata map[string]string) error {
	name := filepath.Base(path)
	logger := s.logger.With().
		Str("container", container).
		Str("blob", name).
		Logger()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %w", otaerrors.ErrUpload, path, err)
	}
	defer f.Close()

	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		meta[k] = to.Ptr(v)
	}

	logger.Info().Msg("uploading firmware")

	_, err = s.client.UploadFile(ctx, container, name, f, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(firmwareContentType),
		},
		Metadata: meta,
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.ContainerNotFound) {
			return fmt.Errorf("%w: container %s does not exist: %w", otaerrors.ErrUpload, container, err)
		}
		return fmt.Errorf("%w: %w", otaerrors.ErrUpload, err)
	}

	logger.Info().Msg("firmware uploaded")
	return nil
}

// BlobURL implements BlobStore
func (s *blobService) BlobURL(container, name string) string {
	return fmt.Sprintf("%s/%s/%s", s.endpoint, container, name)
}

// ContainerSAS implements BlobStore
func (s *blobService) ContainerSAS(container string, expiry time.Time) (string, error) {
	permissions := sas.ContainerPermissions{Read: true, List: true}

	params, err := sas.BlobSignatureValues{
		ExpiryTime:    expiry.UTC(),
		Permissions:   permissions.String(),
		ContainerName: container,
	}.SignWithSharedKey(s.credential)
	if err != nil {
		return "", fmt.Errorf("failed to sign container sas: %w", err)
	}

	return params.Encode(), nil
}

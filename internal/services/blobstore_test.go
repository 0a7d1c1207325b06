package services

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/rs/zerolog"
	"github.com/savaki/iothub-ota/internal/connstr"
	otaerrors "github.com/savaki/iothub-ota/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStorage(t *testing.T) connstr.Storage {
	t.Helper()
	storage, err := connstr.ParseStorage(testStorageConnectionString)
	require.NoError(t, err)
	return storage
}

func newTestBlobService(t *testing.T, transport *fakeTransport) BlobStore {
	t.Helper()
	store, err := NewBlobService(testStorage(t), zerolog.New(io.Discard), &azblob.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Transport: transport,
			Retry:     policy.RetryOptions{MaxRetries: -1},
		},
	})
	require.NoError(t, err)
	return store
}

// headerValue matches name case-insensitively; azblob stores x-ms-* keys in lowercase.
func headerValue(h http.Header, name string) string {
	for key, values := range h {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

func TestHeaderValue(t *testing.T) {
	h := http.Header{}
	h["x-ms-blob-type"] = []string{"BlockBlob"}
	h.Set("Content-Type", "application/octet-stream")

	assert.Equal(t, "BlockBlob", headerValue(h, "x-ms-blob-type"))
	assert.Equal(t, "BlockBlob", headerValue(h, "X-Ms-Blob-Type"))
	assert.Equal(t, "application/octet-stream", headerValue(h, "content-type"))
	assert.Empty(t, headerValue(h, "x-ms-meta-sha256"))
}

func TestBlobService_Upload(t *testing.T) {
	contents := []byte("firmware-image-bytes")
	path := filepath.Join(t.TempDir(), "firmware.bin")
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	transport := &fakeTransport{
		doFunc: func(req *http.Request, body []byte) (*http.Response, error) {
			return newResponse(req, http.StatusCreated, "", nil), nil
		},
	}
	store := newTestBlobService(t, transport)

	err := store.Upload(context.Background(), "ota", path, map[string]string{"sha256": "ABC"})
	require.NoError(t, err)

	requests := transport.Requests()
	require.Len(t, requests, 1)

	req := requests[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "acme.blob.core.windows.net", req.URL.Host)
	assert.Equal(t, "/ota/firmware.bin", req.URL.Path)
	assert.Equal(t, "BlockBlob", headerValue(req.Header, "x-ms-blob-type"))
	assert.Equal(t, "application/octet-stream", headerValue(req.Header, "x-ms-blob-content-type"))
	assert.Equal(t, "ABC", headerValue(req.Header, "x-ms-meta-sha256"))
	assert.Contains(t, req.Header.Get("Authorization"), "SharedKey acme:")
	// overwrite semantics: no precondition on an existing blob
	assert.Empty(t, req.Header.Get("If-None-Match"))
	assert.Equal(t, contents, req.Body)
}

func TestBlobService_Upload_ContainerNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "firmware.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	transport := &fakeTransport{
		doFunc: func(req *http.Request, body []byte) (*http.Response, error) {
			return newResponse(req, http.StatusNotFound, "", map[string]string{
				"x-ms-error-code": "ContainerNotFound",
			}), nil
		},
	}
	store := newTestBlobService(t, transport)

	err := store.Upload(context.Background(), "missing", path, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, otaerrors.ErrUpload)
	assert.Contains(t, err.Error(), "container missing does not exist")
}

func TestBlobService_Upload_MissingFile(t *testing.T) {
	store := newTestBlobService(t, &fakeTransport{})

	err := store.Upload(context.Background(), "ota", filepath.Join(t.TempDir(), "nope.bin"), nil)
	assert.ErrorIs(t, err, otaerrors.ErrUpload)
}

func TestBlobService_BlobURL(t *testing.T) {
	store := newTestBlobService(t, &fakeTransport{})

	assert.Equal(t,
		"https://acme.blob.core.windows.net/ota/firmware.bin",
		store.BlobURL("ota", "firmware.bin"),
	)
}

func TestBlobService_ContainerSAS(t *testing.T) {
	store := newTestBlobService(t, &fakeTransport{})
	expiry := time.Date(2027, 10, 17, 12, 30, 0, 0, time.UTC)

	token, err := store.ContainerSAS("ota", expiry)
	require.NoError(t, err)

	values, err := url.ParseQuery(token)
	require.NoError(t, err)

	assert.Equal(t, "rl", values.Get("sp"))
	assert.Equal(t, "c", values.Get("sr"))
	assert.Equal(t, "2027-10-17T12:30:00Z", values.Get("se"))
	assert.NotEmpty(t, values.Get("sig"))
	assert.NotEmpty(t, values.Get("sv"))
}

func TestNewBlobService_InvalidKey(t *testing.T) {
	storage := testStorage(t)
	storage.AccountKey = "not base64!"

	_, err := NewBlobService(storage, zerolog.New(io.Discard), nil)
	assert.ErrorIs(t, err, otaerrors.ErrConnectionString)
}

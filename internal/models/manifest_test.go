package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "release.yaml")
	m := Manifest{
		DeploymentID:    "2HFj3kLmNoPqRsTuVwXy",
		ConfigurationID: "ota_v3",
		Version:         3,
		Product:         "thermostat",
		Group:           "fleetA",
		Container:       "ota",
		Blob:            "firmware.bin",
		URL:             "https://acme.blob.core.windows.net/ota/firmware.bin",
		Size:            1024,
		SHA256:          "ABCDEF",
		SASExpiry:       "2027-10-17T00:00:00Z",
		CreatedAt:       "2026-10-17T00:00:00Z",
	}

	require.NoError(t, WriteManifest(path, m))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "configuration_id: ota_v3")
	assert.Contains(t, string(raw), "sha256: ABCDEF")

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestReadManifest_Missing(t *testing.T) {
	_, err := ReadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

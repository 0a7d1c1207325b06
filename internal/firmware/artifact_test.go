package firmware

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, contents, 0o600))
	return path
}

func TestInspect(t *testing.T) {
	path := writeFile(t, "firmware.bin", []byte("abc"))

	artifact, err := Inspect(path)
	require.NoError(t, err)

	assert.Equal(t, path, artifact.Path)
	assert.Equal(t, "firmware.bin", artifact.Name)
	assert.EqualValues(t, 3, artifact.Size)
	// sha256("abc")
	assert.Equal(t, "BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD", artifact.SHA256)
}

func TestInspect_EmptyFile(t *testing.T) {
	artifact, err := Inspect(writeFile(t, "empty.bin", nil))
	require.NoError(t, err)
	assert.EqualValues(t, 0, artifact.Size)
	assert.Equal(t, "E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855", artifact.SHA256)
}

func TestChecksum_Deterministic(t *testing.T) {
	contents := make([]byte, 1<<20)
	for i := range contents {
		contents[i] = byte(i % 251)
	}
	a := writeFile(t, "a.bin", contents)
	b := writeFile(t, "b.bin", contents)

	first, err := Checksum(a)
	require.NoError(t, err)
	second, err := Checksum(b)
	require.NoError(t, err)
	again, err := Checksum(a)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, again)
	assert.Len(t, first, 64)
}

func TestInspect_Errors(t *testing.T) {
	_, err := Inspect(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)

	_, err = Inspect(t.TempDir())
	assert.Error(t, err)
}

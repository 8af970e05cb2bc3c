package pid

import (
	"os"
	"strconv"
	"testing"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, Write(dir))

	data, err := os.ReadFile(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	require.NoError(t, Remove(dir))
	_, err = os.Stat(Path(dir))
	assert.True(t, os.IsNotExist(err))

	// Removing twice is fine
	require.NoError(t, Remove(dir))
}

func TestWriteDetectsRunningProcess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte(strconv.Itoa(os.Getpid())), 0o600))

	err := Write(dir)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteReplacesStaleFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte("not-a-pid"), 0o600))

	require.NoError(t, Write(dir))
}

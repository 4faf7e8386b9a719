package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func TestLifecycle_StartWritesPIDFile(t *testing.T) {
	dataDir := t.TempDir()
	l := NewLifecycleManager(dataDir)

	require.NoError(t, l.Start(testLogger()))
	defer l.Stop()

	pid, err := l.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, l.IsRunning())
}

func TestLifecycle_StopRemovesPIDFile(t *testing.T) {
	dataDir := t.TempDir()
	l := NewLifecycleManager(dataDir)

	require.NoError(t, l.Start(testLogger()))
	require.NoError(t, l.Stop())

	assert.NoFileExists(t, l.PIDFile())
	assert.False(t, l.IsRunning())
}

func TestLifecycle_StopWithoutStartIsNoop(t *testing.T) {
	l := NewLifecycleManager(t.TempDir())
	assert.NoError(t, l.Stop())
}

func TestLifecycle_SecondStartRejected(t *testing.T) {
	dataDir := t.TempDir()

	first := NewLifecycleManager(dataDir)
	require.NoError(t, first.Start(testLogger()))
	defer first.Stop()

	second := NewLifecycleManager(dataDir)
	err := second.Start(testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestLifecycle_DetectsLiveProcess(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "semfs.pid"), []byte(strconv.Itoa(os.Getpid())), 0644))

	l := NewLifecycleManager(dataDir)
	assert.True(t, l.IsRunning())
}

func TestLifecycle_StalePIDFileIgnored(t *testing.T) {
	dataDir := t.TempDir()
	// A PID that cannot belong to a live process.
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "semfs.pid"), []byte(strconv.Itoa(1<<22+7)), 0644))

	l := NewLifecycleManager(dataDir)
	assert.False(t, l.IsRunning())
	require.NoError(t, l.Start(testLogger()))
	defer l.Stop()
}

func TestLifecycle_CreatesDataDir(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "nested", "data")
	l := NewLifecycleManager(dataDir)

	require.NoError(t, l.Start(testLogger()))
	defer l.Stop()

	assert.DirExists(t, dataDir)
}

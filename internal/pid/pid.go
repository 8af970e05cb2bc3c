package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/sensorctl/internal/errors"
)

const (
	pidFile = "sensorctl.pid"
)

// Path returns the PID file location inside dir, or the temp dir when dir is empty.
func Path(dir string) string {
	if dir == "" {
		dir = os.TempDir()
	}

	return filepath.Join(dir, pidFile)
}

// Write writes the current process ID to a PID file in dir. It fails with
// ErrAlreadyRunning when the recorded process is still alive.
func Write(dir string) error {
	errFactory := errors.New()
	path := Path(dir)

	if _, err := os.Stat(path); err == nil {
		// PID file exists, check if the process is running
		bytes, err := os.ReadFile(path)
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		// A garbled file is stale; overwrite it.
		if pid, err := strconv.Atoi(strings.TrimSpace(string(bytes))); err == nil && running(pid) {
			return errFactory.WithData(errors.ErrAlreadyRunning, pid)
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func Remove(dir string) error {
	errFactory := errors.New()
	path := Path(dir)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func running(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}

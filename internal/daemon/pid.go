// Package daemon runs the long-lived watch process: a pid lock on the data
// directory, an fsnotify watcher over table journals and configs, and an
// optional metrics endpoint.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrPIDFileNotFound indicates the PID file does not exist.
	ErrPIDFileNotFound = errors.New("pid file not found")
	// ErrInvalidPID indicates the PID file contains invalid data.
	ErrInvalidPID = errors.New("invalid pid in file")
	// ErrAlreadyRunning indicates a live process holds the PID file.
	ErrAlreadyRunning = errors.New("watch already running")
)

// PIDFile is a held pid lock. Release removes the file.
type PIDFile struct {
	path string
	pid  int
}

// AcquirePID writes the current process id to path. A file left behind
// by a dead process is replaced; a live one yields ErrAlreadyRunning.
func AcquirePID(path string) (*PIDFile, error) {
	if _, err := CleanStalePID(path); err != nil {
		return nil, err
	}

	pid := os.Getpid()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			owner, _ := ReadPID(path)
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, owner)
		}
		return nil, fmt.Errorf("creating pid file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("writing pid file: %w", err)
	}
	return &PIDFile{path: path, pid: pid}, nil
}

// Path returns the lock file path.
func (p *PIDFile) Path() string {
	return p.path
}

// PID returns the pid written to the file.
func (p *PIDFile) PID() int {
	return p.pid
}

// Release removes the PID file if it still names this process.
func (p *PIDFile) Release() error {
	owner, err := ReadPID(p.path)
	if err != nil {
		if errors.Is(err, ErrPIDFileNotFound) {
			return nil
		}
		return err
	}
	if owner != p.pid {
		return nil
	}
	return RemovePID(p.path)
}

// ReadPID reads the PID from the specified file.
// Returns ErrPIDFileNotFound if the file doesn't exist.
// Returns ErrInvalidPID if the file contains invalid data.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrPIDFileNotFound
		}
		return 0, fmt.Errorf("reading pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, ErrInvalidPID
	}
	return pid, nil
}

// RemovePID removes the PID file at the specified path.
// Returns nil if the file doesn't exist (idempotent).
func RemovePID(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid file: %w", err)
	}
	return nil
}

// IsProcessRunning checks if a process with the given PID is running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix FindProcess always succeeds; signal 0 probes for existence
	return process.Signal(syscall.Signal(0)) == nil
}

// CleanStalePID removes the PID file if it is unreadable or references a
// non-running process. Returns true if the file was removed.
func CleanStalePID(path string) (bool, error) {
	pid, err := ReadPID(path)
	switch {
	case errors.Is(err, ErrPIDFileNotFound):
		return false, nil
	case errors.Is(err, ErrInvalidPID):
		return true, RemovePID(path)
	case err != nil:
		return false, err
	}

	if IsProcessRunning(pid) {
		return false, nil
	}
	return true, RemovePID(path)
}

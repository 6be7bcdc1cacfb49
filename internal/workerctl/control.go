package workerctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"easel/internal/config"
)

const pidFileName = "easel.pid"

// PIDFilePath returns the pid file location for a configuration.
func PIDFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, pidFileName)
}

// WritePIDFile records a process id, creating parent directories as needed.
func WritePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure pid directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPIDFile returns the recorded pid, or 0 when the file is absent.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %q holds no valid pid", path)
	}
	return pid, nil
}

// RemovePIDFile deletes the pid file. A missing file is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// RemovePIDFileIfOwned deletes the pid file only when it still records the
// given pid. Another process may have rewritten the file since it was
// created; that process owns it now and its record must survive.
func RemovePIDFileIfOwned(path string, pid int) error {
	recorded, err := ReadPIDFile(path)
	if err != nil || recorded != pid {
		return err
	}
	return RemovePIDFile(path)
}

// IsRunning probes whether the recorded process is alive using kill(pid, 0).
// EPERM counts as alive: the process exists but belongs to another user.
func IsRunning(path string) (bool, int) {
	pid, err := ReadPIDFile(path)
	if err != nil || pid == 0 {
		return false, 0
	}
	if err := unix.Kill(pid, 0); err != nil {
		if errors.Is(err, unix.EPERM) {
			return true, pid
		}
		return false, pid
	}
	return true, pid
}

// Launch starts a detached daemon process running `easel daemon`.
func Launch(executablePath, configPath string) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfgPath := strings.TrimSpace(configPath); cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// StartState enumerates EnsureStarted outcomes.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// EnsureStarted launches the daemon unless the pid file already points at a
// live process. launch is invoked at most once; after launching, the pid
// file is polled until the daemon reports alive or the timeout elapses.
func EnsureStarted(pidPath string, launch func() error, waitTimeout time.Duration) (StartResult, error) {
	if running, pid := IsRunning(pidPath); running {
		return StartResult{State: StartStateAlreadyRunning, PID: pid}, nil
	}

	if err := launch(); err != nil {
		return StartResult{}, err
	}

	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if running, pid := IsRunning(pidPath); running {
			return StartResult{State: StartStateStarted, PID: pid}, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return StartResult{}, fmt.Errorf("daemon did not come up within %s", waitTimeout)
}

// StopResult captures daemon termination outcome.
type StopResult struct {
	ForcedKill bool
	StoppedPID int
}

// Stop sends SIGTERM to the recorded process and waits for it to exit.
// When the grace period elapses the process is force killed. The pid file
// is removed once the process is gone.
func Stop(pidPath string, gracePeriod time.Duration) (StopResult, error) {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return StopResult{}, err
	}
	if pid == 0 {
		return StopResult{}, errors.New("daemon not running")
	}
	if alive, _ := IsRunning(pidPath); !alive {
		_ = RemovePIDFile(pidPath)
		return StopResult{}, errors.New("daemon not running")
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return StopResult{}, fmt.Errorf("signal daemon %d: %w", pid, err)
	}

	deadline := time.Now().Add(gracePeriod)
	for time.Now().Before(deadline) {
		if alive, _ := IsRunning(pidPath); !alive {
			_ = RemovePIDFile(pidPath)
			return StopResult{StoppedPID: pid}, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	killed, err := ForceKill(pidPath, pid)
	if err != nil {
		return StopResult{StoppedPID: pid}, fmt.Errorf("daemon did not exit, force kill failed: %w", err)
	}
	return StopResult{ForcedKill: true, StoppedPID: killed}, nil
}

// ForceKill sends SIGKILL to the recorded process and removes the pid file.
func ForceKill(pidPath string, fallbackPID int) (int, error) {
	pid, err := ReadPIDFile(pidPath)
	if err != nil || pid == 0 {
		pid = fallbackPID
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := RemovePIDFile(pidPath); err != nil {
		return pid, err
	}
	return pid, nil
}

package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Acquire when a live process holds the file.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNotRunning is returned by Stop when no live process holds the file.
	ErrNotRunning = errors.New("server is not running")
)

// PIDFile records the PID and listen address of a background crm server.
//
// The file holds two lines: the PID, then the address. Files with only a
// PID line are accepted.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Acquire writes the current PID and addr, creating the parent directory.
// A file left behind by a dead process is replaced.
func (p *PIDFile) Acquire(addr string) error {
	if pid, running := p.IsRunning(); running {
		return fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	return p.write(os.Getpid(), addr)
}

// WritePID writes the given PID with no address.
func (p *PIDFile) WritePID(pid int) error {
	return p.write(pid, "")
}

func (p *PIDFile) write(pid int, addr string) error {
	content := strconv.Itoa(pid) + "\n"
	if addr != "" {
		content += addr + "\n"
	}
	return os.WriteFile(p.Path, []byte(content), 0o644)
}

// Read returns the PID from the file.
func (p *PIDFile) Read() (int, error) {
	pid, _, err := p.ReadAll()
	return pid, err
}

// ReadAll returns the PID and the recorded address, which may be empty.
func (p *PIDFile) ReadAll() (int, string, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, "", err
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, "", fmt.Errorf("invalid PID file content: %w", err)
	}
	var addr string
	if len(lines) > 1 {
		addr = strings.TrimSpace(lines[1])
	}
	return pid, addr, nil
}

// Release removes the file if it still belongs to the current process.
func (p *PIDFile) Release() error {
	pid, err := p.Read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	return p.Remove()
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}

// IsRunning reports the recorded PID and whether that process is alive.
func (p *PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, alive(pid)
}

// Signal sends sig to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	return signalPID(pid, sig)
}

// Stop sends SIGTERM to the recorded process and waits up to grace for it
// to exit, then sends SIGKILL. The file is removed in every case, including
// when it only names a dead process. It returns the stopped PID and whether
// the process had to be killed.
func (p *PIDFile) Stop(grace time.Duration) (pid int, killed bool, err error) {
	pid, running := p.IsRunning()
	if !running {
		if pid != 0 {
			_ = p.Remove()
		}
		return 0, false, ErrNotRunning
	}
	defer func() { _ = p.Remove() }()

	if err := p.Signal(syscall.SIGTERM); err != nil {
		return pid, false, fmt.Errorf("signal PID %d: %w", pid, err)
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if _, running := p.IsRunning(); !running {
			return pid, false, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := p.Signal(syscall.SIGKILL); err != nil {
		return pid, true, fmt.Errorf("kill PID %d: %w", pid, err)
	}
	return pid, true, nil
}

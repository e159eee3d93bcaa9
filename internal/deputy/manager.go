package deputy

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/kornnellio/procd/internal/tokenize"
)

// Sentinel errors for the taxonomy in spec.md §7.
var (
	ErrNotRunning     = fmt.Errorf("process not running")
	ErrAlreadyRunning = fmt.Errorf("process already running")
	ErrSpawnFailed    = fmt.Errorf("spawn failed")
)

// outputLine is one chunk of a child's combined stdout/stderr, or an
// end-of-stream/error sentinel, marshaled from a per-child reader
// goroutine back onto the event loop's single select (spec.md §5: "An
// implementation may use an internal worker pool only if it marshals
// results back to the loop thread before they touch state.").
type outputLine struct {
	sheriffID int32
	text      string
	errText   string
	eof       bool
}

// Manager owns the set of ChildHandles (spec.md C2). Its methods are
// the only way the reconciler and event loop mutate child processes;
// all state mutation happens on the single event-loop goroutine, so
// the mutex below guards only against the rare case of a debug/CLI
// goroutine calling Cmds() concurrently.
type Manager struct {
	mu    sync.Mutex
	table map[int32]*ChildHandle

	outputCh chan outputLine
}

// NewManager creates an empty process table.
func NewManager() *Manager {
	return &Manager{
		table:    make(map[int32]*ChildHandle),
		outputCh: make(chan outputLine, 256),
	}
}

// Output returns the channel the event loop selects on for child
// stdout/stderr data.
func (m *Manager) Output() <-chan outputLine { return m.outputCh }

// Lookup finds a handle by sheriff id.
func (m *Manager) Lookup(sheriffID int32) (*ChildHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.table[sheriffID]
	return h, ok
}

// Add allocates a new, not-yet-running ChildHandle (spec.md C2.add).
// It does not spawn the process.
func (m *Manager) Add(sheriffID int32, name, nickname, group string) (*ChildHandle, error) {
	argv, err := tokenize.Split(name)
	if err != nil {
		return nil, err
	}
	h := &ChildHandle{
		SheriffID: sheriffID,
		Name:      name,
		Nickname:  nickname,
		Group:     group,
		argv:      argv,
	}
	m.mu.Lock()
	m.table[sheriffID] = h
	m.mu.Unlock()
	return h, nil
}

// Remove detaches and frees a handle. Requires pid == 0 (spec.md
// invariant: a running handle cannot be removed directly; it must go
// through remove_requested + reap first).
func (m *Manager) Remove(h *ChildHandle) error {
	h.mu.Lock()
	pid := h.pid
	h.mu.Unlock()
	if pid != 0 {
		return fmt.Errorf("remove %d: %w", h.SheriffID, ErrAlreadyRunning)
	}
	m.mu.Lock()
	delete(m.table, h.SheriffID)
	m.mu.Unlock()
	return nil
}

// ChangeName mutates the stored command string and re-tokenizes argv.
// It does not touch a running pid; the effect is only visible on the
// next Start (spec.md C2.change_name).
func (m *Manager) ChangeName(h *ChildHandle, newName string) error {
	argv, err := tokenize.Split(newName)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.Name = newName
	h.argv = argv
	h.mu.Unlock()
	return nil
}

// Start forks+execs the handle's current argv, piping the child's
// merged stdout+stderr back through a dedicated reader goroutine.
// On failure pid stays 0 and no watch is registered (spec.md invariant
// 6); on success actual_runid is set by the caller (the reconciler),
// not here, since only the reconciler knows desired_runid at the call
// site (spec.md §4.4.e).
func (m *Manager) Start(h *ChildHandle) error {
	h.mu.Lock()
	if h.pid != 0 {
		h.mu.Unlock()
		return fmt.Errorf("start %d: %w", h.SheriffID, ErrAlreadyRunning)
	}
	argv := append([]string(nil), h.argv...)
	h.mu.Unlock()

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("start %d: pipe: %w", h.SheriffID, err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // new process group; kill(-pgid, sig) reaches the whole tree
	}

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("start %d: %w: %v", h.SheriffID, ErrSpawnFailed, err)
	}
	// Parent's copy of the write end must close so the reader goroutine
	// sees EOF once the child (and all its descendants) close theirs.
	pw.Close()

	h.mu.Lock()
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.exited = false
	h.numKillsSent = 0
	h.lastKillTime = 0
	h.eofSeen = false
	h.outputDone = make(chan struct{})
	h.mu.Unlock()

	go m.readOutput(h, pr)
	return nil
}

// readOutput drains a child's combined stdout/stderr in 1023-byte
// chunks (spec.md §5 stdout read chunk size) and forwards each chunk,
// plus a final EOF sentinel, onto the shared output channel.
func (m *Manager) readOutput(h *ChildHandle, pr *os.File) {
	defer pr.Close()
	buf := make([]byte, 1023)
	for {
		n, err := pr.Read(buf)
		if n > 0 {
			m.outputCh <- outputLine{sheriffID: h.SheriffID, text: string(buf[:n])}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.outputCh <- outputLine{sheriffID: h.SheriffID, errText: err.Error()}
			}
			m.outputCh <- outputLine{sheriffID: h.SheriffID, eof: true}
			close(h.outputDone)
			return
		}
	}
}

// Kill signals the child's process group (spec.md C2.kill). Negative
// pid targets the whole group so grandchildren are reached too.
func (m *Manager) Kill(h *ChildHandle, sig syscall.Signal) error {
	h.mu.Lock()
	pid := h.pid
	h.mu.Unlock()
	if pid == 0 {
		return ErrNotRunning
	}
	return syscall.Kill(-pid, sig)
}

// ReapOne performs exactly one nonblocking Wait4(-1), which collects any
// exited child of this process (spec.md C2.reap_one contract). A reaped
// pid that is not in the table is discarded and reported as
// (nil, false), the same as no exited child. Callers loop until it
// returns (nil, false).
func (m *Manager) ReapOne() (*ChildHandle, bool) {
	var wstatus syscall.WaitStatus
	pid, err := syscall.Wait4(-1, &wstatus, syscall.WNOHANG, nil)
	if pid <= 0 || err != nil {
		return nil, false
	}

	m.mu.Lock()
	var found *ChildHandle
	for _, h := range m.table {
		if h.PID() == pid {
			found = h
			break
		}
	}
	m.mu.Unlock()
	if found == nil {
		return nil, false
	}

	found.mu.Lock()
	found.pid = 0
	found.exited = true
	found.wstatus = wstatus
	if wstatus.Exited() {
		found.exitCode = wstatus.ExitStatus()
	} else if wstatus.Signaled() {
		found.exitCode = 128 + int(wstatus.Signal())
	}
	found.mu.Unlock()
	return found, true
}

// WaitOutputDrained blocks until the reaped handle's output reader has
// observed EOF, so the last bytes of output are never lost ahead of
// the exit notification (spec.md §4.4.2 / §5 ordering guarantee).
func (h *ChildHandle) WaitOutputDrained() {
	h.mu.Lock()
	done := h.outputDone
	h.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Cmds returns a borrowed snapshot slice of every handle currently in
// the table (spec.md C2.cmds: iteration only, never mutation).
func (m *Manager) Cmds() []*ChildHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ChildHandle, 0, len(m.table))
	for _, h := range m.table {
		out = append(out, h)
	}
	return out
}

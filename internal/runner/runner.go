// Package runner supervises the bot process and streams its output to
// websocket listeners.
package runner

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"botdash/internal/model"
)

// Mode selects what the bot process does.
type Mode string

// Supported run modes.
const (
	ModeFull   Mode = "full"
	ModeScrape Mode = "scrape"
	ModeSend   Mode = "send"
	ModeDebug  Mode = "debug"
)

// ParseMode validates a mode name. An empty name means ModeFull.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeFull, nil
	case ModeFull, ModeScrape, ModeSend, ModeDebug:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// StopNotice is broadcast after the operator stops the bot.
const StopNotice = "🛑 Bot wurde vom Benutzer gestoppt."

// DefaultKillTimeout is how long Stop waits after SIGTERM before SIGKILL.
const DefaultKillTimeout = 5 * time.Second

// Lines containing this text are not forwarded.
const noiseMarker = "Ignoring unsupported entryTypes"

// Broadcaster receives every forwarded output line.
type Broadcaster interface {
	Broadcast(message string)
}

type process struct {
	cmd  *exec.Cmd
	mode Mode
	done chan struct{}
}

// Runner starts and stops a single bot process at a time.
type Runner struct {
	dir          string
	command      []string
	debugCommand []string
	out          Broadcaster
	log          *slog.Logger
	killTimeout  time.Duration

	// ops serializes Start and Stop.
	ops sync.Mutex

	mu   sync.Mutex
	proc *process
}

// New creates a Runner. command is run with "--mode <mode>" appended;
// debugCommand is run as is for ModeDebug.
func New(dir string, command, debugCommand []string, out Broadcaster, log *slog.Logger) *Runner {
	return &Runner{
		dir:          dir,
		command:      command,
		debugCommand: debugCommand,
		out:          out,
		log:          log,
		killTimeout:  DefaultKillTimeout,
	}
}

// SetKillTimeout overrides the grace period between SIGTERM and SIGKILL.
func (r *Runner) SetKillTimeout(d time.Duration) {
	r.killTimeout = d
}

// Status reports whether a process is running.
func (r *Runner) Status() model.BotStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		return model.BotStatus{Status: model.BotIdle}
	}
	pid := r.proc.cmd.Process.Pid
	return model.BotStatus{Status: model.BotRunning, PID: &pid, Mode: string(r.proc.mode)}
}

// Start launches the bot in mode, stopping a running instance first.
func (r *Runner) Start(mode Mode) (int, error) {
	r.ops.Lock()
	defer r.ops.Unlock()

	if _, err := r.stop(); err != nil {
		return 0, fmt.Errorf("stop previous run: %w", err)
	}

	argv := r.argv(mode)
	if len(argv) == 0 {
		return 0, errors.New("no bot command configured")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = r.dir
	setProcessGroup(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start bot: %w", err)
	}

	p := &process{cmd: cmd, mode: mode, done: make(chan struct{})}
	r.mu.Lock()
	r.proc = p
	r.mu.Unlock()

	r.log.Info("bot started", "pid", cmd.Process.Pid, "mode", mode, "command", strings.Join(argv, " "))
	go r.pump(p, bufio.NewScanner(stdout))

	return cmd.Process.Pid, nil
}

// Stop terminates the running process group. It reports false when nothing
// was running.
func (r *Runner) Stop() (bool, error) {
	r.ops.Lock()
	defer r.ops.Unlock()

	stopped, err := r.stop()
	if err != nil {
		r.out.Broadcast(fmt.Sprintf("Error stopping bot: %v", err))
	}
	if stopped {
		r.out.Broadcast(StopNotice)
	}
	return stopped, err
}

func (r *Runner) stop() (bool, error) {
	r.mu.Lock()
	p := r.proc
	r.mu.Unlock()
	if p == nil {
		return false, nil
	}

	pid := p.cmd.Process.Pid
	if err := signalGroup(pid, sigTerm); err != nil {
		return true, fmt.Errorf("terminate pid %d: %w", pid, err)
	}

	select {
	case <-p.done:
	case <-time.After(r.killTimeout):
		r.log.Warn("bot ignored SIGTERM, killing", "pid", pid)
		if err := signalGroup(pid, sigKill); err != nil {
			return true, fmt.Errorf("kill pid %d: %w", pid, err)
		}
		<-p.done
	}
	return true, nil
}

func (r *Runner) argv(mode Mode) []string {
	if mode == ModeDebug {
		return r.debugCommand
	}
	if len(r.command) == 0 {
		return nil
	}
	argv := make([]string, 0, len(r.command)+2)
	argv = append(argv, r.command...)
	return append(argv, "--mode", string(mode))
}

func (r *Runner) pump(p *process, sc *bufio.Scanner) {
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.Contains(line, noiseMarker) {
			continue
		}
		r.out.Broadcast(line)
	}
	if err := sc.Err(); err != nil {
		r.out.Broadcast(fmt.Sprintf("Error reading logs: %v", err))
	}

	err := p.cmd.Wait()
	code := exitCode(p.cmd)
	r.log.Info("bot exited", "pid", p.cmd.Process.Pid, "code", code, "error", err)
	r.out.Broadcast(fmt.Sprintf("Process finished with exit code %d", code))

	r.mu.Lock()
	if r.proc == p {
		r.proc = nil
	}
	r.mu.Unlock()
	close(p.done)
}

package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultTimeout   = 30 * time.Second
	MaxTimeout       = 120 * time.Second
	DefaultMaxOutput = 100 * 1024
)

// waitDelay bounds how long Run waits for pipes after the process is killed.
const waitDelay = 2 * time.Second

// Executor runs commands through sh -c with bounded time and output.
type Executor struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxOutput      int
	Shell          string
}

// NewExecutor returns an executor with the given limits. Zero values take the defaults;
// limits above the hard ceilings are clamped.
func NewExecutor(defaultTimeout, maxTimeout time.Duration, maxOutput int) *Executor {
	if maxTimeout <= 0 || maxTimeout > MaxTimeout {
		maxTimeout = MaxTimeout
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	if defaultTimeout > maxTimeout {
		defaultTimeout = maxTimeout
	}
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &Executor{DefaultTimeout: defaultTimeout, MaxTimeout: maxTimeout, MaxOutput: maxOutput, Shell: "/bin/sh"}
}

// Command is one governed invocation.
type Command struct {
	Line    string
	Dir     string
	Timeout time.Duration
}

// Result captures what happened.
type Result struct {
	Command        string
	Stdout         string
	Stderr         string
	ExitCode       int
	Killed         bool
	Timeout        time.Duration
	Duration       time.Duration
	Truncated      bool
	TruncatedBytes int64
	Err            string // start failures, not non-zero exits
}

// EffectiveTimeout clamps requested into (0, MaxTimeout].
func (e *Executor) EffectiveTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return e.DefaultTimeout
	}
	if requested > e.MaxTimeout {
		return e.MaxTimeout
	}
	return requested
}

// Run executes cmd. It never returns an error: failures are described in the Result.
func (e *Executor) Run(ctx context.Context, cmd Command) Result {
	timeout := e.EffectiveTimeout(cmd.Timeout)
	res := Result{Command: cmd.Line, Timeout: timeout}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sh := e.Shell
	if sh == "" {
		sh = "/bin/sh"
	}
	c := exec.CommandContext(execCtx, sh, "-c", cmd.Line)
	c.Dir = cmd.Dir
	c.WaitDelay = waitDelay

	stdout, stderr := newStreamLimit(e.MaxOutput), newStreamLimit(e.MaxOutput)
	c.Stdout = stdout
	c.Stderr = stderr

	start := time.Now()
	err := c.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.TruncatedBytes = stdout.discarded + stderr.discarded
	res.Truncated = res.TruncatedBytes > 0

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		res.Killed = true
		res.ExitCode = -1
		return res
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else if !errors.Is(err, exec.ErrWaitDelay) {
			res.ExitCode = -1
			res.Err = err.Error()
		}
	}
	return res
}

// Format renders a result for the agent.
func (r Result) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "$ %s\n", r.Command)
	switch {
	case r.Killed:
		fmt.Fprintf(&sb, "TIMED OUT after %s (process killed)\n", r.Timeout)
	case r.Err != "":
		fmt.Fprintf(&sb, "failed to start: %s\n", r.Err)
	default:
		fmt.Fprintf(&sb, "exit code: %d (%s)\n", r.ExitCode, r.Duration.Round(time.Millisecond))
	}
	if r.Stdout != "" {
		sb.WriteString("--- stdout ---\n")
		sb.WriteString(strings.TrimRight(r.Stdout, "\n"))
		sb.WriteString("\n")
	}
	if r.Stderr != "" {
		sb.WriteString("--- stderr ---\n")
		sb.WriteString(strings.TrimRight(r.Stderr, "\n"))
		sb.WriteString("\n")
	}
	if r.Truncated {
		fmt.Fprintf(&sb, "[... truncated %d bytes]\n", r.TruncatedBytes)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// streamLimit caps one output stream. Each stream has its own writer fed by
// a single exec goroutine, so the cut point depends only on that stream's bytes.
type streamLimit struct {
	buf       bytes.Buffer
	max       int64
	discarded int64
}

func newStreamLimit(max int) *streamLimit {
	return &streamLimit{max: int64(max)}
}

// Write always reports len(p) so the child never sees a short write.
func (w *streamLimit) Write(p []byte) (int, error) {
	n := int64(len(p))
	remaining := w.max - int64(w.buf.Len())
	switch {
	case remaining <= 0:
		w.discarded += n
	case n > remaining:
		w.buf.Write(p[:remaining])
		w.discarded += n - remaining
	default:
		w.buf.Write(p)
	}
	return len(p), nil
}

// String returns the kept bytes. A rune split by the cap is dropped and
// counted as discarded.
func (w *streamLimit) String() string {
	b := w.buf.Bytes()
	if w.discarded > 0 {
		kept := trimPartialRune(b)
		w.discarded += int64(len(b) - len(kept))
		b = kept
	}
	return string(b)
}

// trimPartialRune cuts an incomplete UTF-8 sequence off the end of b.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return b
			}
			return b[:i]
		}
	}
	return b
}

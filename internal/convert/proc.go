package convert

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// killGracePeriod is how long a signalled process gets to exit on its
// own before it is killed outright.
const killGracePeriod = 5 * time.Second

// procHandle supervises one external process: it merges stdout and
// stderr, feeds every line through the stage's progress parser, and
// reaps the process when the stream ends.
type procHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	progress Progress
	err      error
}

// startProcess launches a command with merged output and begins
// following it in the background.
func startProcess(ctx context.Context, parser progressParser, extraEnv []string, name string, args ...string) (*procHandle, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	// context cancellation sends SIGTERM first; WaitDelay covers the
	// escalation to SIGKILL
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGracePeriod

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	// the child holds the write end now
	pw.Close()

	h := &procHandle{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	go h.follow(pr, parser)

	return h, nil
}

// follow drains the output stream line by line, then reaps the process
func (h *procHandle) follow(r io.ReadCloser, parser progressParser) {
	defer close(h.done)
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanProgressLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		h.mu.Lock()
		h.progress.Line = line
		if parser != nil {
			if pct, ok := parser.Parse(line); ok && pct > h.progress.Percent {
				h.progress.Percent = pct
			}
		}
		h.mu.Unlock()
	}

	err := h.cmd.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr) && exitErr.ExitCode() >= 0:
			h.err = fmt.Errorf("process exited with status %d", exitErr.ExitCode())
		case exitErr != nil:
			// killed by a signal, no exit code to report
			h.err = fmt.Errorf("process terminated: %v", err)
		default:
			h.err = err
		}
	}
}

// Poll returns the latest observed progress sample
func (h *procHandle) Poll() Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

// Done closes once the process has been reaped
func (h *procHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the final outcome; valid once Done is closed
func (h *procHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Cancel terminates the process and does not return until it is no
// longer running.
func (h *procHandle) Cancel() error {
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(killGracePeriod):
	}

	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	<-h.done
	return nil
}

// scanProgressLines splits on newlines and carriage returns, since
// encoder tools rewrite their status line with bare \r.
func scanProgressLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance := i + 1
		if data[i] == '\r' && advance < len(data) && data[advance] == '\n' {
			advance++
		}
		return advance, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

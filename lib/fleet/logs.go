package fleet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/d2ha/d2ha/lib/logger"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// DefaultLogTimeout bounds a log stream when LogOptions.Timeout is zero.
const DefaultLogTimeout = 10 * time.Second

// StreamLogs streams container output line by line
// Returns last Tail lines, then continues following if Follow is set, until
// the timeout elapses or ctx is done
func (m *manager) StreamLogs(ctx context.Context, id string, opts LogOptions) (<-chan string, error) {
	log := logger.FromContext(ctx)
	log.DebugContext(ctx, "starting log stream", "id", id, "tail", opts.Tail, "follow", opts.Follow)

	c, err := m.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	tty := c.Config != nil && c.Config.Tty

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultLogTimeout
	}
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	tail := "all"
	if opts.Tail > 0 {
		tail = strconv.Itoa(opts.Tail)
	}
	rc, err := m.engine.ContainerLogs(ctx, c.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       tail,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("logs %s: %w", id, err)
	}

	// Non-tty output is multiplexed into stdout and stderr frames
	var r io.Reader = rc
	var pr *io.PipeReader
	if !tty {
		var pw *io.PipeWriter
		pr, pw = io.Pipe()
		go func() {
			_, err := stdcopy.StdCopy(pw, pw, rc)
			pw.CloseWithError(err)
		}()
		r = pr
	}

	out := make(chan string, 100)

	go func() {
		defer close(out)
		defer cancel()
		defer rc.Close()
		if pr != nil {
			defer pr.Close()
		}

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				log.DebugContext(ctx, "log stream ended", "id", id, "reason", ctx.Err())
				return
			case out <- strings.TrimRight(scanner.Text(), "\r\n "):
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			log.ErrorContext(ctx, "scanner error", "id", id, "error", err)
		}
	}()

	return out, nil
}

// Logs returns the last tail lines of a container's output.
func (m *manager) Logs(ctx context.Context, id string, tail int) (string, error) {
	lines, err := m.StreamLogs(ctx, id, LogOptions{Tail: tail})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

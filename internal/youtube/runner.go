package youtube

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

const maxStderrTail = 2048

// CommandRunner abstracts exec.CommandContext so tests can inject a stub.
type CommandRunner interface {
	// Run executes name with args and returns everything the command wrote
	// to stdout. If onLine is non-nil, it is called for each line of stdout
	// as it is produced.
	Run(ctx context.Context, name string, args []string, onLine func(string)) ([]byte, error)
}

// ExecCommandRunner is the real CommandRunner that shells out to the system.
type ExecCommandRunner struct{}

func (ExecCommandRunner) Run(ctx context.Context, name string, args []string, onLine func(string)) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	var out bytes.Buffer
	reader := bufio.NewReader(stdout)
	for {
		line, readErr := reader.ReadString('\n')
		out.WriteString(line)
		if onLine != nil && line != "" {
			onLine(strings.TrimRight(line, "\r\n"))
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				log.Warnf("Failed reading stdout of %s: %v\n", name, readErr)
			}
			break
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return out.Bytes(), ctx.Err()
		}

		return out.Bytes(), fmt.Errorf("%s exited with error: %w\n%s", name, err, tail(stderr.String()))
	}

	return out.Bytes(), nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxStderrTail {
		return s
	}

	return "..." + s[len(s)-maxStderrTail:]
}

package transcriber

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

const stderrTailLines = 20

// commandRunner abstracts process execution for testability
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, onStderrLine func(line string)) (stdout []byte, err error)
}

// execRunner executes commands via os/exec, streaming stderr line by line
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, onStderrLine func(line string)) ([]byte, error) {
	// #nosec G204 - command and args come from engine configuration
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attach stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	tail := scanLines(stderr, onStderrLine)

	if err := cmd.Wait(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s failed: %w (stderr: %s)", name, err, strings.Join(tail, " | "))
	}
	return stdout.Bytes(), nil
}

// scanLines feeds every line of r to onLine and keeps the last few for
// error reports. whisper.cpp separates progress updates with \r as well
// as \n, so both count as line breaks.
func scanLines(r io.Reader, onLine func(string)) []string {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(splitCRLF)

	tail := make([]string, 0, stderrTailLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if onLine != nil {
			onLine(line)
		}
		if len(tail) == stderrTailLines {
			tail = tail[1:]
		}
		tail = append(tail, line)
	}
	return tail
}

func splitCRLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

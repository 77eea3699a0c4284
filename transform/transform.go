// Package transform produces the canonical archive bytes of a message.
package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// StatusHeader is the header written in place of the store-specific status.
const StatusHeader = "Status: RO"

var ErrFilterFailed = errors.New("header filter failed")

// Command pipes a message through an external filter program.
type Command struct {
	Path string
	Args []string
}

// NewFormail returns the filter rewriting the Status header with formail(1).
func NewFormail(path string) *Command {
	if strings.TrimSpace(path) == "" {
		path = "formail"
	}
	return &Command{Path: path, Args: []string{"-I", StatusHeader}}
}

// Transform runs the filter with the message file on stdin and returns its
// complete standard output.
func (c *Command) Transform(ctx context.Context, path string) ([]byte, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer in.Close()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = in
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s on %s exited with %d: %s", ErrFilterFailed, c.Path, path, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: run %s on %s: %v", ErrFilterFailed, c.Path, path, err)
	}
	return out, nil
}

func (c *Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command runs an external extractor. The document path is appended to Args and
// the process must print a JSON object {"metadata": {...}, "text": "..."} on stdout.
// Exit code 3 means the format is unsupported.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

const exitUnsupported = 3

func (c *Command) Extract(ctx context.Context, doc Document) (Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.Args...), doc.Path)
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Env = append(cmd.Environ(),
		"DOCUMENT_KEY="+doc.Key,
		"DOCUMENT_CONTENT_TYPE="+doc.ContentType,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("extractor %s: %w", c.Path, ctx.Err())
		}
		if exit, ok := err.(*exec.ExitError); ok && exit.ExitCode() == exitUnsupported {
			return Result{}, fmt.Errorf("%w: %s", ErrUnsupported, doc.Key)
		}
		return Result{}, fmt.Errorf("extractor %s: %w: %s", c.Path, err, strings.TrimSpace(stderr.String()))
	}

	var res Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return Result{}, fmt.Errorf("decoding extractor output: %w", err)
	}
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	return res, nil
}

package ports

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CommandProber runs an external command and returns its non-empty output
// lines in order.
type CommandProber struct {
	Command []string
	Timeout time.Duration
}

func (p *CommandProber) Probe(ctx context.Context) ([]string, error) {
	if len(p.Command) == 0 {
		return nil, errors.New("no ports command configured")
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd, err := safeCommand(ctx, p.Command[0], p.Command[1:]...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Command[0], err)
	}
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", p.Command[0], ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", p.Command[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", p.Command[0], err)
	}

	lines := []string{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

// lookSafePath resolves a bare command name against the directories in
// dirs. Absolute paths are used as given; relative paths are rejected.
func lookSafePath(name, dirs string) (string, error) {
	if strings.ContainsAny(name, `/\`) {
		if !filepath.IsAbs(name) {
			return "", fmt.Errorf("command path %q is not absolute", name)
		}
		return name, nil
	}
	for _, dir := range filepath.SplitList(dirs) {
		for _, ext := range executableExts {
			candidate := filepath.Join(dir, name+ext)
			if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w in %s", exec.ErrNotFound, dirs)
}

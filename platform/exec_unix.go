//go:build linux || darwin

package platform

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// run executes an external helper, feeding stdin when non-empty. A missing
// binary is reported as ErrUnsupported so callers can fall back.
func run(stdin string, name string, args ...string) (string, error) {
	if _, err := exec.LookPath(name); err != nil {
		return "", fmt.Errorf("%s: %w", name, ErrUnsupported)
	}
	cmd := exec.Command(name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return "", fmt.Errorf("%s failed: %s", name, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("%s failed: %w", name, err)
	}
	return stdout.String(), nil
}

// firstAvailable runs the first helper whose binary is installed.
func firstAvailable(stdin string, cmds ...[]string) (string, error) {
	for _, c := range cmds {
		out, err := run(stdin, c[0], c[1:]...)
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		return out, err
	}
	return "", ErrUnsupported
}

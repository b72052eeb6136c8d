package provider

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const versionWaitDelay = 250 * time.Millisecond

var (
	ErrToolMissing    = errors.New("tool not found on PATH")
	ErrVersionTimeout = errors.New("tool version query timed out")
	ErrVersionTooOld  = errors.New("tool version too old")
)

// ParseVersion returns the first whitespace-separated field of out that is a
// semantic version, in canonical "vX.Y.Z" form with any pre-release and
// build suffix removed.
func ParseVersion(out string) (string, bool) {
	for _, field := range strings.Fields(out) {
		v := field
		if !strings.HasPrefix(v, "v") {
			v = "v" + v
		}
		if !semver.IsValid(v) {
			continue
		}
		v = semver.Canonical(v)
		return strings.TrimSuffix(v, semver.Prerelease(v)), true
	}
	return "", false
}

// queryVersion runs `<command> --version` and checks the result against min.
func (t *ToolProvider) queryVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.VersionTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.opts.Command, "--version")
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	// Children that inherited stdout must not hold Output past the timeout.
	cmd.WaitDelay = versionWaitDelay
	out, err := cmd.Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w after %s", ErrVersionTimeout, t.opts.VersionTimeout)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrToolMissing, t.opts.Command)
	}
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", t.opts.Command, err)
	}

	v, ok := ParseVersion(string(out))
	if !ok {
		return "", fmt.Errorf("%s --version: unrecognized output %q", t.opts.Command, strings.TrimSpace(string(out)))
	}
	if semver.Compare(v, t.opts.MinVersion) < 0 {
		return "", fmt.Errorf("%w: have %s, need %s", ErrVersionTooOld, v, t.opts.MinVersion)
	}
	return v, nil
}

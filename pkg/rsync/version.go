package rsync

import (
	"context"
	"errors"
	"os/exec"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/jvs-project/rsyncer/pkg/errclass"
)

// "rsync  version 3.2.7  protocol version 31" and openrsync's
// "rsync version 2.6.9 compatible" both match; a bare protocol number does not.
var versionRegex = regexp.MustCompile(`version\s+v?([0-9]+\.[0-9]+(?:\.[0-9]+)?)`)

// ParseVersion extracts the rsync release from `rsync --version` output.
func ParseVersion(output string) (*semver.Version, error) {
	m := versionRegex.FindStringSubmatch(output)
	if m == nil {
		return nil, errclass.ErrVersionUnknown.WithMessage("no version in rsync --version output")
	}
	v, err := semver.NewVersion(m[1])
	if err != nil {
		return nil, errclass.ErrVersionUnknown.WithMessagef("parse %q: %v", m[1], err)
	}
	return v, nil
}

// DetectVersion runs `<binary> --version` and parses the result.
func DetectVersion(ctx context.Context, binary string) (*semver.Version, error) {
	if binary == "" {
		binary = DefaultBinary
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, errclass.ErrSpawnFailed.WithMessagef("locate %s: %v", binary, err)
	}
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, errclass.ErrSpawnFailed.WithMessagef("run %s --version: %v", binary, err)
		}
		// Some builds exit non-zero after printing the banner.
		if len(out) == 0 {
			return nil, errclass.ErrVersionUnknown.WithMessagef("%s --version exited with code %d", binary, exitErr.ExitCode())
		}
	}
	return ParseVersion(string(out))
}

// Package pathutil provides validation for the strings rsyncer hands to rsync.
package pathutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/jvs-project/rsyncer/pkg/errclass"
)

var (
	nameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

	// [user@]host, where host is a DNS name, an IPv4 address or a
	// bracketed IPv6 literal.
	remoteRegex = regexp.MustCompile(`^([^@\s:/\[\]]+@)?([a-zA-Z0-9._-]+|\[[0-9a-fA-F:.]+\])$`)
)

// ValidateJobName checks that a configured job name is safe to use as a
// placeholder value and a metrics label.
func ValidateJobName(name string) error {
	if name == "" {
		return errclass.ErrConfigInvalid.WithMessage("job name must not be empty")
	}
	if !nameRegex.MatchString(name) {
		return errclass.ErrConfigInvalid.WithMessagef("job name must match [a-zA-Z0-9._-]+: %s", name)
	}
	return nil
}

// ValidateRemote checks a remote qualifier such as "user@host".
func ValidateRemote(remote string) error {
	if remote == "" {
		return errclass.ErrInvalidOptions.WithMessage("remote qualifier must not be empty")
	}

	// The qualifier reaches argv as given, so it is checked as given.
	if !norm.NFC.IsNormalString(remote) {
		return errclass.ErrInvalidOptions.WithMessagef("remote qualifier must be NFC-normalized: %q", remote)
	}
	for _, r := range remote {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return errclass.ErrInvalidOptions.WithMessagef("remote qualifier must not contain whitespace or control characters: %q", remote)
		}
	}
	if !remoteRegex.MatchString(remote) {
		return errclass.ErrInvalidOptions.WithMessagef("remote qualifier must look like [user@]host: %s", remote)
	}
	return nil
}

// ValidateArg rejects values that cannot travel through argv.
func ValidateArg(what, value string) error {
	if strings.ContainsRune(value, 0) {
		return errclass.ErrInvalidOptions.WithMessagef("%s must not contain NUL bytes: %q", what, value)
	}
	return nil
}

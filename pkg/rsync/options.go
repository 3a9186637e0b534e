// Package rsync builds rsync command lines and runs them as supervised
// subprocesses whose combined output is captured in a private log file.
//
// The simplest entry point is Sync, which blocks until rsync exits:
//
//	ok, err := rsync.Sync(ctx, rsync.Options{Source: "/data/", Dest: "/backup/"})
//
// Callers that want to poll progress or stop a transfer use a Session:
//
//	s, err := rsync.NewSession(opts)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	if err := s.Run(); err != nil {
//		return err
//	}
//	pct, ok, err := s.Progress()
package rsync

import (
	"regexp"
	"strings"

	"github.com/jvs-project/rsyncer/pkg/errclass"
	"github.com/jvs-project/rsyncer/pkg/pathutil"
)

// DefaultBinary is looked up on PATH when Options.Binary is empty.
const DefaultBinary = "rsync"

// DefaultBaseFlags puts rsync in archive mode.
var DefaultBaseFlags = []string{"-a"}

// Options describes a single rsync invocation. Treat it as a value: the
// builder and sessions copy the slices they keep.
type Options struct {
	Source string
	Dest   string

	// SourceSSH and DestSSH are optional remote qualifiers such as
	// "user@host". At most one side may be remote.
	SourceSSH string
	DestSSH   string

	// Includes and Excludes are filter patterns, passed through unmodified.
	Includes []string
	Excludes []string

	// ExtraFlags are raw rsync flags appended after the filter rules.
	ExtraFlags []string

	// BaseFlags replaces DefaultBaseFlags when non-nil.
	BaseFlags []string

	// Binary is the rsync executable; DefaultBinary when empty.
	Binary string
}

func (o Options) binary() string {
	if o.Binary == "" {
		return DefaultBinary
	}
	return o.Binary
}

func (o Options) baseFlags() []string {
	if o.BaseFlags == nil {
		return DefaultBaseFlags
	}
	return o.BaseFlags
}

// Validate reports the first problem that would keep BuildArgs from
// producing a command line.
func (o Options) Validate() error {
	if o.Source == "" {
		return errclass.ErrInvalidOptions.WithMessage("source must not be empty")
	}
	if o.Dest == "" {
		return errclass.ErrInvalidOptions.WithMessage("dest must not be empty")
	}
	if o.SourceSSH != "" && o.DestSSH != "" {
		return errclass.ErrInvalidOptions.WithMessage("source and dest cannot both be remote")
	}
	if o.SourceSSH != "" {
		if err := pathutil.ValidateRemote(o.SourceSSH); err != nil {
			return err
		}
	}
	if o.DestSSH != "" {
		if err := pathutil.ValidateRemote(o.DestSSH); err != nil {
			return err
		}
	}

	checks := []struct {
		what   string
		values []string
	}{
		{"binary", []string{o.binary()}},
		{"source", []string{o.Source}},
		{"dest", []string{o.Dest}},
		{"include", o.Includes},
		{"exclude", o.Excludes},
		{"extra flag", o.ExtraFlags},
		{"base flag", o.BaseFlags},
	}
	for _, c := range checks {
		for _, v := range c.values {
			if err := pathutil.ValidateArg(c.what, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// BuildArgs returns the argument vector (without the binary) for o:
// base flags, includes, excludes, extra flags, source, dest.
//
// Includes come before excludes because rsync applies the first matching
// filter rule.
func BuildArgs(o Options) ([]string, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	base := o.baseFlags()
	args := make([]string, 0, len(base)+len(o.Includes)+len(o.Excludes)+len(o.ExtraFlags)+2)
	args = append(args, base...)
	for _, p := range o.Includes {
		args = append(args, "--include="+p)
	}
	for _, p := range o.Excludes {
		args = append(args, "--exclude="+p)
	}
	args = append(args, o.ExtraFlags...)
	args = append(args, location(o.SourceSSH, o.Source), location(o.DestSSH, o.Dest))
	return args, nil
}

// location renders a path, prefixing "<remote>:" when remote is set.
func location(remote, path string) string {
	if remote == "" {
		return path
	}
	return remote + ":" + path
}

// CommandLine returns the full command as a copy-and-paste shell string.
func (o Options) CommandLine() (string, error) {
	args, err := BuildArgs(o)
	if err != nil {
		return "", err
	}
	return formatCommand(o.binary(), args), nil
}

func formatCommand(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(binary))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

var shellSafe = regexp.MustCompile(`^[a-zA-Z0-9@%+=:,./_-]+$`)

// shellQuote single-quotes s unless it only holds characters a POSIX shell
// passes through literally.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// hasProgressFlag reports whether args ask rsync to print progress lines.
func hasProgressFlag(args []string) bool {
	for _, a := range args {
		switch {
		case a == "-P", a == "--progress":
			return true
		case strings.HasPrefix(a, "--info=") && strings.Contains(a, "progress"):
			return true
		case len(a) > 1 && a[0] == '-' && a[1] != '-' && strings.ContainsRune(a, 'P'):
			return true
		}
	}
	return false
}

package config

import (
	"github.com/jvs-project/rsyncer/pkg/errclass"
	"github.com/jvs-project/rsyncer/pkg/pathutil"
	"github.com/jvs-project/rsyncer/pkg/rsync"
)

// Job is a named, reusable sync definition. Source and Dest may contain
// placeholders such as {date} or {job}; they are expanded when the job runs.
type Job struct {
	Name      string   `yaml:"name" json:"name"`
	Source    string   `yaml:"source" json:"source"`
	Dest      string   `yaml:"dest" json:"dest"`
	SourceSSH string   `yaml:"source_ssh,omitempty" json:"source_ssh,omitempty"`
	DestSSH   string   `yaml:"dest_ssh,omitempty" json:"dest_ssh,omitempty"`
	Includes  []string `yaml:"includes,omitempty" json:"includes,omitempty"`
	Excludes  []string `yaml:"excludes,omitempty" json:"excludes,omitempty"`
	Flags     []string `yaml:"flags,omitempty" json:"flags,omitempty"`
	// KeepLog, when set, receives rsync's output and survives the session.
	KeepLog string `yaml:"keep_log,omitempty" json:"keep_log,omitempty"`
}

func (j Job) validate() error {
	if err := pathutil.ValidateJobName(j.Name); err != nil {
		return err
	}
	if j.Source == "" || j.Dest == "" {
		return errclass.ErrConfigInvalid.WithMessagef("job %q: source and dest are required", j.Name)
	}
	return nil
}

// Job returns the job called name.
func (c *Config) Job(name string) (Job, error) {
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, nil
		}
	}
	return Job{}, errclass.ErrJobNotFound.WithMessagef("no job named %q", name)
}

// JobNames returns the configured job names in file order.
func (c *Config) JobNames() []string {
	names := make([]string, 0, len(c.Jobs))
	for _, j := range c.Jobs {
		names = append(names, j.Name)
	}
	return names
}

// Options merges the global settings with job into rsync options. Global
// default excludes come before the job's own.
func (c *Config) Options(j Job) rsync.Options {
	var excludes []string
	if len(c.DefaultExcludes) > 0 || len(j.Excludes) > 0 {
		excludes = append(append([]string{}, c.DefaultExcludes...), j.Excludes...)
	}
	return rsync.Options{
		Source:     j.Source,
		Dest:       j.Dest,
		SourceSSH:  j.SourceSSH,
		DestSSH:    j.DestSSH,
		Includes:   append([]string(nil), j.Includes...),
		Excludes:   excludes,
		ExtraFlags: append([]string(nil), j.Flags...),
		BaseFlags:  c.BaseFlags,
		Binary:     c.Binary,
	}
}

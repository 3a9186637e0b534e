package cli

import (
	"fmt"
	"strings"

	"github.com/jvs-project/rsyncer/pkg/color"
)

// suggestJobs provides helpful suggestions when a job is not found.
// Returns a formatted suggestion string.
func suggestJobs(name string, known []string) string {
	if len(known) == 0 {
		return color.Dim(fmt.Sprintf("No jobs are configured. Add one under %s in %s.",
			color.Code("jobs:"), color.Code("rsyncer config path")))
	}

	lower := strings.ToLower(name)

	// Try to find close matches by name
	var matches []string
	for _, k := range known {
		if strings.HasPrefix(strings.ToLower(k), lower) {
			matches = append(matches, color.Success(k))
		}
	}

	// If no prefix matches, try substring
	if len(matches) == 0 {
		for _, k := range known {
			if strings.Contains(strings.ToLower(k), lower) || strings.Contains(lower, strings.ToLower(k)) {
				matches = append(matches, color.Success(k))
			}
		}
	}

	if len(matches) > 0 {
		hint := "Did you mean"
		if len(matches) > 1 {
			hint += " one of"
		}
		return color.Dim(fmt.Sprintf("%s: %s?", hint, strings.Join(matches, ", ")))
	}

	names := make([]string, 0, len(known))
	for _, k := range known {
		names = append(names, color.Success(k))
	}
	return color.Dim(fmt.Sprintf("Available jobs: %s", strings.Join(names, ", ")))
}

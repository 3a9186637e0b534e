// Package template expands placeholders in job paths, e.g.
// "/backups/{hostname}/{date}".
package template

import (
	"os"
	"os/user"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var placeholderRegex = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Expand expands template placeholders in the input string using the current time.
//
// Supported placeholders:
//
//	{date}      - YYYY-MM-DD
//	{time}      - HHMMSS
//	{datetime}  - YYYYMMDD-HHMMSS
//	{year}, {month}, {day}
//	{unix}      - Unix timestamp
//	{user}      - Current username
//	{hostname}  - Short system hostname
//
// Time values never contain ':' so an expanded local path cannot be
// mistaken by rsync for a host:path argument. Custom values in vars override
// built-ins; unknown placeholders are left untouched.
func Expand(text string, vars map[string]string) string {
	return ExpandAt(text, time.Now(), vars)
}

// ExpandAt is Expand with a fixed clock.
func ExpandAt(text string, now time.Time, vars map[string]string) string {
	if !strings.Contains(text, "{") {
		return text
	}

	placeholders := map[string]string{
		"date":     now.Format("2006-01-02"),
		"time":     now.Format("150405"),
		"datetime": now.Format("20060102-150405"),
		"year":     now.Format("2006"),
		"month":    now.Format("01"),
		"day":      now.Format("02"),
		"unix":     strconv.FormatInt(now.Unix(), 10),
	}
	if u, err := user.Current(); err == nil {
		placeholders["user"] = u.Username
	} else {
		placeholders["user"] = "unknown"
	}
	if h, err := os.Hostname(); err == nil {
		placeholders["hostname"] = strings.Split(h, ".")[0]
	} else {
		placeholders["hostname"] = "unknown"
	}
	for k, v := range vars {
		placeholders[k] = v
	}

	return placeholderRegex.ReplaceAllStringFunc(text, func(m string) string {
		if v, ok := placeholders[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

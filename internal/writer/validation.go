package writer

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	sessionPrefix     = "session_"
	sessionTimeLayout = "2006-01-02T15-04-05"
)

// sessionName returns the directory name of a session created at t
func sessionName(t time.Time) string {
	return sessionPrefix + t.Format(sessionTimeLayout)
}

// SessionTime returns the creation time encoded in a session name such as
// session_2026-10-18T09-15-00. Names that the session manager could not have
// produced are rejected, including impossible dates.
func SessionTime(name string) (time.Time, error) {
	stamp, ok := strings.CutPrefix(name, sessionPrefix)
	if ok {
		t, err := time.ParseInLocation(sessionTimeLayout, stamp, time.Local)
		if err == nil && t.Format(sessionTimeLayout) == stamp {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid session name %q: expected %sYYYY-MM-DDTHH-MM-SS", name, sessionPrefix)
}

// ValidateSessionName accepts only plain session directory names, so a name
// taken from the command line can never address a path outside the output
// directory
func ValidateSessionName(name string) error {
	if name == "" {
		return fmt.Errorf("session name cannot be empty")
	}
	if !filepath.IsLocal(name) || filepath.Base(name) != name {
		return fmt.Errorf("invalid session name %q: must be a directory directly under the output directory", name)
	}
	_, err := SessionTime(name)
	return err
}

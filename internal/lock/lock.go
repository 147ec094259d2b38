// Package lock keeps two worker processes from claiming the same identity
// on one machine.
package lock

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrHeld is returned when another process holds the lock.
var ErrHeld = errors.New("lock held by another process")

// Lock is an exclusive flock(2) on a file that records its holder. It lasts
// as long as the file descriptor stays open.
type Lock struct {
	path string
	f    *os.File
}

// IdentityPath is the lock file for worker id under dir. The id is
// percent-encoded, so distinct ids never share a file.
func IdentityPath(dir, id string) string {
	return filepath.Join(dir, ".testworker-"+url.PathEscape(id)+".lock")
}

// Holder returns what the current holder wrote into path, or "unknown".
func Holder(path string) string {
	b, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(b))) == 0 {
		return "unknown"
	}
	return strings.TrimSpace(string(b))
}

func (l *Lock) Path() string { return l.path }

//go:build !unix

package lock

// Acquire is a no-op where flock(2) is unavailable.
func Acquire(path, owner string) (*Lock, error) {
	return &Lock{path: path}, nil
}

func (l *Lock) Release() error { return nil }

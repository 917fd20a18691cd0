package wavfile

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

var (
	// ErrNotOpen is returned by Write before Open or after Close.
	ErrNotOpen = errors.New("wavfile: writer not open")
	// ErrDiskFull marks writes that failed because the volume or quota is exhausted.
	ErrDiskFull = errors.New("wavfile: disk full")
	// ErrPermission marks writes refused by the filesystem.
	ErrPermission = errors.New("wavfile: permission denied")
)

// classify wraps an I/O error from op so callers can tell disk-full and
// permission failures apart with errors.Is. The original error stays in the chain.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isDiskFull(err):
		return fmt.Errorf("%w: %s: %w", ErrDiskFull, op, err)
	case isPermission(err):
		return fmt.Errorf("%w: %s: %w", ErrPermission, op, err)
	default:
		return fmt.Errorf("wavfile: %s: %w", op, err)
	}
}

func isDiskFull(err error) bool {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "disk quota exceeded")
}

func isPermission(err error) bool {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EROFS) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "read-only file system")
}

package vault

import (
	"errors"
	"os"
	"syscall"
)

// isCrossDevice reports whether a rename failed because src and dst are on
// different filesystems (EXDEV). Treated as a configuration error rather
// than a silent copy-then-delete fallback (§9 design note).
func isCrossDevice(linkErr *os.LinkError) bool {
	var errno syscall.Errno
	if errors.As(linkErr.Err, &errno) {
		return errno == syscall.EXDEV
	}
	return false
}

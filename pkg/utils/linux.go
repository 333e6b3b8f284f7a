//go:build linux

package utils

import (
	"golang.org/x/sys/unix"
)

// DisableTHP opts the process out of transparent huge pages. Object
// buffers are short lived and huge pages keep their memory resident.
func DisableTHP() error {
	return unix.Prctl(unix.PR_SET_THP_DISABLE, 1, 0, 0, 0)
}

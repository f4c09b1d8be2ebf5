//go:build linux || darwin || freebsd

package numeric

import "golang.org/x/sys/unix"

// systemPageSize queries the OS page size, mirroring the teacher's use of
// golang.org/x/sys for platform facilities in hive/dirty.
func systemPageSize() ByteSize {
	return ByteSize(unix.Getpagesize())
}

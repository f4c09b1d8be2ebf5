//go:build !linux && !darwin && !freebsd && !windows

package numeric

// systemPageSize falls back to the most common page size on platforms
// golang.org/x/sys doesn't give us a direct query for here.
func systemPageSize() ByteSize {
	return 4096
}

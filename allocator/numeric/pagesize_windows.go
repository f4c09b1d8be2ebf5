//go:build windows

package numeric

import "golang.org/x/sys/windows"

// systemPageSize queries the OS page size via GetSystemInfo, the Windows
// equivalent of the unix build's unix.Getpagesize().
func systemPageSize() ByteSize {
	var info windows.SystemInfo
	windows.GetSystemInfo(&info)
	return ByteSize(info.PageSize)
}

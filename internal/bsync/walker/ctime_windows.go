//go:build windows

package walker

import (
	"io/fs"
	"syscall"
	"time"
)

func createdAt(info fs.FileInfo) time.Time {
	if data, ok := info.Sys().(*syscall.Win32FileAttributeData); ok {
		return time.Unix(0, data.CreationTime.Nanoseconds())
	}
	return info.ModTime()
}

//go:build !linux && !darwin && !windows

package walker

import (
	"io/fs"
	"time"
)

func createdAt(info fs.FileInfo) time.Time {
	return info.ModTime()
}

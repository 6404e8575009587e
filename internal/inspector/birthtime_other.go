//go:build !linux

package inspector

import (
	"os"
	"time"
)

func createdAt(_ string, info os.FileInfo) time.Time {
	return info.ModTime()
}

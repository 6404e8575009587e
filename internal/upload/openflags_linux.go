//go:build linux

package upload

import "golang.org/x/sys/unix"

// noFollow makes opening a destination fail when it is a symlink
const noFollow = unix.O_NOFOLLOW

//go:build !linux

package upload

const noFollow = 0

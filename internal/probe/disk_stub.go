//go:build !linux
// +build !linux

package probe

import "errors"

func diskUsage(path string) (used, total int64, err error) {
	_ = path
	return 0, 0, errors.New("storage probe is only supported on linux")
}

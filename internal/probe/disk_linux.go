//go:build linux
// +build linux

package probe

import "golang.org/x/sys/unix"

func diskUsage(path string) (used, total int64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	total = int64(st.Blocks) * int64(st.Bsize)
	free := int64(st.Bavail) * int64(st.Bsize)
	used = total - free
	if used < 0 {
		used = 0
	}
	return used, total, nil
}

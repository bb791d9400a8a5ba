//go:build unix

package loader

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapOrRead memory-maps path read-only, falling back to a plain read of the
// whole file when the mapping fails. An empty file is ErrTooSmall.
func mmapOrRead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return nil, ErrTooSmall
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		// Fall back to a regular read (e.g. the path is on a filesystem that
		// doesn't support mmap).
		return os.ReadFile(path)
	}
	return data, nil
}

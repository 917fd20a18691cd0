//go:build linux

package wavfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// dataSync flushes file contents without forcing a metadata update.
func dataSync(f *os.File) error {
	for {
		err := unix.Fdatasync(int(f.Fd()))
		if err != unix.EINTR {
			return err
		}
	}
}

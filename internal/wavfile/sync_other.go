//go:build !linux

package wavfile

import "os"

// dataSync falls back to a full sync where fdatasync is unavailable.
func dataSync(f *os.File) error {
	return f.Sync()
}

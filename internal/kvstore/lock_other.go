//go:build !unix

package kvstore

import "os"

// Without flock the in-process mutex is the only guard.
func lockFile(f *os.File, exclusive bool) error {
	_ = f
	_ = exclusive
	return nil
}

func unlockFile(f *os.File) error {
	_ = f
	return nil
}

//go:build !unix

package history

import "os"

// lockFile is a no-op here; the in-process mutex still serializes appends.
func lockFile(_ *os.File) error   { return nil }
func unlockFile(_ *os.File) error { return nil }

//go:build !unix

package storage

import "os"

// Advisory locking is not supported on this platform; opens proceed
// unlocked.
func lockFile(*os.File, bool) error { return nil }

func unlockFile(*os.File) error { return nil }

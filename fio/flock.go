package fio

import (
	"path/filepath"

	"github.com/gofrs/flock"
)

type FileLocker interface {
	TryLock() (bool, error)
	Unlock() error
}

const flockName = "flock"

// NewFlock returns the lock guarding exclusive use of dirPath
func NewFlock(dirPath string) FileLocker {
	return flock.New(filepath.Join(dirPath, flockName))
}

// IsLockFile reports whether name is the lock file created by NewFlock
func IsLockFile(name string) bool {
	return name == flockName
}

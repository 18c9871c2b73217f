package fio

// IOManager can be custom in options
type IOManager interface {
	// Read reads len(buf) bytes at offset
	Read([]byte, int64) (int, error)
	// Write appends data at the end of the file
	Write([]byte) (int, error)
	Sync() error
	Close() error
	Size() (int64, error)
	// Truncate drops everything after size
	Truncate(size int64) error
}

// Creator opens (creating if needed) the file at path
type Creator func(path string) (IOManager, error)

package checksum

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"hash/crc64"
)

const (
	CRC32IEEE       = "crc32-ieee"
	CRC32Castagnoli = "crc32-castagnoli"
	CRC64ECMA       = "crc64-ecma"
)

// Checksum computes the digest stored at the end of every record.
// Size is the number of bytes Sum appends.
type Checksum interface {
	Name() string
	Size() int
	// Sum appends the digest of data to dst
	Sum(dst, data []byte) []byte
	// Verify reports whether digest matches data
	Verify(data, digest []byte) bool
}

// New returns the checksum registered under name
func New(name string) (Checksum, error) {
	switch name {
	case "", CRC32IEEE:
		return &crc32Sum{name: CRC32IEEE, table: crc32.IEEETable}, nil
	case CRC32Castagnoli:
		return &crc32Sum{name: CRC32Castagnoli, table: crc32.MakeTable(crc32.Castagnoli)}, nil
	case CRC64ECMA:
		return &crc64Sum{name: CRC64ECMA, table: crc64.MakeTable(crc64.ECMA)}, nil
	}
	return nil, fmt.Errorf("unknown checksum algorithm %q", name)
}

// Default is crc32 with the IEEE polynomial
func Default() Checksum {
	c, _ := New(CRC32IEEE)
	return c
}

type crc32Sum struct {
	name  string
	table *crc32.Table
}

func (c *crc32Sum) Name() string { return c.name }
func (c *crc32Sum) Size() int    { return crc32.Size }

func (c *crc32Sum) Sum(dst, data []byte) []byte {
	return binary.BigEndian.AppendUint32(dst, crc32.Checksum(data, c.table))
}

func (c *crc32Sum) Verify(data, digest []byte) bool {
	if len(digest) != crc32.Size {
		return false
	}
	return crc32.Checksum(data, c.table) == binary.BigEndian.Uint32(digest)
}

type crc64Sum struct {
	name  string
	table *crc64.Table
}

func (c *crc64Sum) Name() string { return c.name }
func (c *crc64Sum) Size() int    { return crc64.Size }

func (c *crc64Sum) Sum(dst, data []byte) []byte {
	return binary.BigEndian.AppendUint64(dst, crc64.Checksum(data, c.table))
}

func (c *crc64Sum) Verify(data, digest []byte) bool {
	if len(digest) != crc64.Size {
		return false
	}
	return crc64.Checksum(data, c.table) == binary.BigEndian.Uint64(digest)
}

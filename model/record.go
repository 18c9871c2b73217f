package model

// HeaderSize is the fixed size of keySize(4) + valueSize(4) + flags(1)
const HeaderSize = 9

const (
	FlagTombstone uint8 = 1 << iota
	// FlagBatched marks a record written by a write batch, it only becomes
	// visible once the matching FlagBatchCommit record has been read
	FlagBatched
	FlagBatchCommit
)

type Record struct {
	Key      []byte
	Value    []byte
	IsDelete bool
	Flags    uint8 // batch flags, tombstone is carried by IsDelete
}

type RecordHeader struct {
	KeySize   uint32
	ValueSize uint32
	Flags     uint8
}

func (h *RecordHeader) IsDelete() bool {
	return h.Flags&FlagTombstone != 0
}

// RecordPos is where the newest version of a key lives
type RecordPos struct {
	Sid    uint64 // segment id
	Offset int64  // record start in the segment
	Size   uint32 // full encoded record size
}

func (p *RecordPos) Equal(other *RecordPos) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Sid == other.Sid && p.Offset == other.Offset && p.Size == other.Size
}

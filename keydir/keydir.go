package keydir

import (
	"fmt"

	"github.com/cqkv/logkv/model"
)

type Type string

const (
	HashMapType  Type = "hashmap"
	BTreeType    Type = "btree"
	SkipListType Type = "skiplist"
)

// Keydir maps every live key to the location of its newest record.
// Mutations come from a single writer, reads may run concurrently.
type Keydir interface {
	// Put stores pos for key and returns the location it replaced, if any
	Put(key []byte, pos *model.RecordPos) *model.RecordPos
	Get(key []byte) *model.RecordPos
	// Delete removes key and returns the location it had, if any
	Delete(key []byte) *model.RecordPos
	Size() int
	// Iterator walks a point in time copy of the keydir in key order
	Iterator() Iterator
	Close() error
}

type Iterator interface {
	Rewind()
	Next()
	Valid() bool
	Key() []byte
	Value() *model.RecordPos
	Close()
}

// New builds an empty keydir of the given type
func New(typ Type) (Keydir, error) {
	switch typ {
	case "", HashMapType:
		return NewHashMap(), nil
	case BTreeType:
		return NewBTree(defaultDegree), nil
	case SkipListType:
		return NewSkipList(), nil
	}
	return nil, fmt.Errorf("unknown keydir type %q", typ)
}

// Equal reports whether two keydirs hold the same key to location mapping
func Equal(a, b Keydir) bool {
	if a.Size() != b.Size() {
		return false
	}
	it := a.Iterator()
	defer it.Close()
	for ; it.Valid(); it.Next() {
		if !it.Value().Equal(b.Get(it.Key())) {
			return false
		}
	}
	return true
}

type item struct {
	key []byte
	pos *model.RecordPos
}

// sliceIterator iterates over a sorted copy of the items
type sliceIterator struct {
	values []*item
	curIdx int
}

func (si *sliceIterator) Rewind() {
	si.curIdx = 0
}

func (si *sliceIterator) Next() {
	si.curIdx++
}

func (si *sliceIterator) Valid() bool {
	return si.curIdx < len(si.values)
}

func (si *sliceIterator) Key() []byte {
	return si.values[si.curIdx].key
}

func (si *sliceIterator) Value() *model.RecordPos {
	return si.values[si.curIdx].pos
}

func (si *sliceIterator) Close() {
	si.values = nil
}

func copyKey(key []byte) []byte {
	return append(make([]byte, 0, len(key)), key...)
}

package keydir

import (
	"bytes"

	"github.com/cqkv/logkv/model"
	"github.com/zhangyunhao116/skipmap"
)

var _ Keydir = (*SkipList)(nil)

// SkipList is an ordered keydir whose reads never block
type SkipList struct {
	m *skipmap.FuncMap[[]byte, *model.RecordPos]
}

func NewSkipList() *SkipList {
	return &SkipList{m: newSkipMap()}
}

func newSkipMap() *skipmap.FuncMap[[]byte, *model.RecordPos] {
	return skipmap.NewFunc[[]byte, *model.RecordPos](func(a, b []byte) bool {
		return bytes.Compare(a, b) < 0
	})
}

// Put is load then store, fine with the single writer
func (sl *SkipList) Put(key []byte, pos *model.RecordPos) *model.RecordPos {
	old, _ := sl.m.Load(key)
	sl.m.Store(copyKey(key), pos)
	return old
}

func (sl *SkipList) Get(key []byte) *model.RecordPos {
	pos, ok := sl.m.Load(key)
	if !ok {
		return nil
	}
	return pos
}

func (sl *SkipList) Delete(key []byte) *model.RecordPos {
	old, ok := sl.m.LoadAndDelete(key)
	if !ok {
		return nil
	}
	return old
}

func (sl *SkipList) Size() int {
	return sl.m.Len()
}

func (sl *SkipList) Close() error {
	sl.m = newSkipMap()
	return nil
}

func (sl *SkipList) Iterator() Iterator {
	values := make([]*item, 0, sl.m.Len())
	sl.m.Range(func(key []byte, pos *model.RecordPos) bool {
		values = append(values, &item{key: key, pos: pos})
		return true
	})
	return &sliceIterator{values: values}
}

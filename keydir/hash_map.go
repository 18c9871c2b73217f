package keydir

import (
	"bytes"
	"sort"
	"sync"

	"github.com/cqkv/logkv/model"
)

var _ Keydir = (*HashMap)(nil)

// HashMap is the default keydir, O(1) lookups, unordered storage
type HashMap struct {
	lock sync.RWMutex
	m    map[string]*model.RecordPos
}

func NewHashMap() *HashMap {
	return &HashMap{m: make(map[string]*model.RecordPos)}
}

func (hm *HashMap) Put(key []byte, pos *model.RecordPos) *model.RecordPos {
	hm.lock.Lock()
	defer hm.lock.Unlock()
	old := hm.m[string(key)]
	hm.m[string(key)] = pos
	return old
}

func (hm *HashMap) Get(key []byte) *model.RecordPos {
	hm.lock.RLock()
	defer hm.lock.RUnlock()
	return hm.m[string(key)]
}

func (hm *HashMap) Delete(key []byte) *model.RecordPos {
	hm.lock.Lock()
	defer hm.lock.Unlock()
	old, ok := hm.m[string(key)]
	if !ok {
		return nil
	}
	delete(hm.m, string(key))
	return old
}

func (hm *HashMap) Size() int {
	hm.lock.RLock()
	defer hm.lock.RUnlock()
	return len(hm.m)
}

func (hm *HashMap) Close() error {
	hm.lock.Lock()
	hm.m = make(map[string]*model.RecordPos)
	hm.lock.Unlock()
	return nil
}

func (hm *HashMap) Iterator() Iterator {
	hm.lock.RLock()
	values := make([]*item, 0, len(hm.m))
	for k, pos := range hm.m {
		values = append(values, &item{key: []byte(k), pos: pos})
	}
	hm.lock.RUnlock()

	sort.Slice(values, func(i, j int) bool {
		return bytes.Compare(values[i].key, values[j].key) < 0
	})
	return &sliceIterator{values: values}
}

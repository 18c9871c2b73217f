package keydir

import (
	"bytes"
	"sync"

	"github.com/cqkv/logkv/model"
	"github.com/google/btree"
)

var _ Keydir = (*BTree)(nil)

const defaultDegree = 32

// BTree implement the keydir, keys are kept in order
type BTree struct {
	tree *btree.BTree
	lock *sync.RWMutex
}

// Item implement the btree.Item interface
type Item struct {
	key []byte
	pos *model.RecordPos
}

func (i *Item) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*Item).key) == -1
}

func NewBTree(degree int) *BTree {
	if degree <= 0 {
		degree = defaultDegree
	}
	return &BTree{
		tree: btree.New(degree),
		lock: &sync.RWMutex{},
	}
}

func (bt *BTree) Put(key []byte, pos *model.RecordPos) *model.RecordPos {
	item := &Item{
		key: copyKey(key),
		pos: pos,
	}
	bt.lock.Lock()
	old := bt.tree.ReplaceOrInsert(item)
	bt.lock.Unlock()
	if old == nil {
		return nil
	}
	return old.(*Item).pos
}

func (bt *BTree) Get(key []byte) *model.RecordPos {
	bt.lock.RLock()
	btItem := bt.tree.Get(&Item{key: key})
	bt.lock.RUnlock()
	if btItem == nil {
		return nil
	}
	return btItem.(*Item).pos
}

func (bt *BTree) Delete(key []byte) *model.RecordPos {
	bt.lock.Lock()
	res := bt.tree.Delete(&Item{key: key})
	bt.lock.Unlock()
	if res == nil {
		return nil
	}
	return res.(*Item).pos
}

func (bt *BTree) Size() int {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	return bt.tree.Len()
}

func (bt *BTree) Close() error {
	bt.lock.Lock()
	bt.tree.Clear(false)
	bt.lock.Unlock()
	return nil
}

func (bt *BTree) Iterator() Iterator {
	bt.lock.RLock()
	defer bt.lock.RUnlock()

	values := make([]*item, 0, bt.tree.Len())
	bt.tree.Ascend(func(i btree.Item) bool {
		values = append(values, &item{key: i.(*Item).key, pos: i.(*Item).pos})
		return true
	})
	return &sliceIterator{values: values}
}

package engine

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// Tree 一棵命名的 key-value 树，所有树共享同一个 badger 实例
type Tree struct {
	db     *DB
	name   string
	prefix []byte
}

func newTree(db *DB, name string) *Tree {
	return &Tree{
		db:     db,
		name:   name,
		prefix: treePrefix(name),
	}
}

func (t *Tree) Name() string {
	return t.name
}

func (t *Tree) key(k []byte) []byte {
	key := make([]byte, 0, len(t.prefix)+len(k))
	key = append(key, t.prefix...)
	return append(key, k...)
}

// Get 读取 key 当前已提交的值
func (t *Tree) Get(key []byte) (value []byte, found bool, err error) {
	if len(key) == 0 {
		return nil, false, ErrEmptyKey
	}
	err = t.db.bdb.View(func(txn *badger.Txn) error {
		value, found, err = get(txn, t.key(key))
		return err
	})
	return value, found, err
}

// ContainsKey key 是否存在
func (t *Tree) ContainsKey(key []byte) (bool, error) {
	_, found, err := t.Get(key)
	return found, err
}

// Insert 写入 key，返回此前的值
func (t *Tree) Insert(key, value []byte) (prev []byte, found bool, err error) {
	err = t.Transaction(func(tx *TxTree) error {
		prev, found, err = tx.Insert(key, value)
		return err
	})
	return prev, found, err
}

// Remove 删除 key，返回此前的值
func (t *Tree) Remove(key []byte) (prev []byte, found bool, err error) {
	err = t.Transaction(func(tx *TxTree) error {
		prev, found, err = tx.Remove(key)
		return err
	})
	return prev, found, err
}

// Transaction 以闭包的形式执行一笔读写事务。
// fn 返回 nil 时提交；返回 Abort(reason) 时回滚并返回 *AbortError；其他错误回滚并返回 *StorageError。
// 提交成功而 Flush 要求的刷盘失败时返回 *SyncError，此时写入已经生效，不会回滚。
// 提交时检测到写冲突，引擎会用一个全新的 TxTree 重新执行 fn，至多 ConflictRetries 次，
// 上一次尝试的写入全部丢弃。fn 因此可能被执行多次。
func (t *Tree) Transaction(fn func(tx *TxTree) error) error {
	for attempt := 0; ; attempt++ {
		txn := t.db.bdb.NewTransaction(true)
		tx := newTxTree(t, txn)

		err := fn(tx)
		tx.invalidate()
		if err != nil {
			txn.Discard()
			var abortErr *AbortError
			if errors.As(err, &abortErr) {
				return abortErr
			}
			return newStorageError(err)
		}

		err = txn.Commit()
		if err == nil {
			if tx.flushed {
				if err = t.db.Sync(); err != nil {
					t.db.opts.Logger.Errorf("tree %q: sync after commit failed, err: %v", t.name, err)
					return &SyncError{Err: err}
				}
			}
			return nil
		}

		if errors.Is(err, badger.ErrConflict) && attempt < t.db.opts.ConflictRetries {
			t.db.opts.Logger.Warnf("tree %q: write conflict on commit, retrying transaction, attempt: %d", t.name, attempt+2)
			continue
		}
		return newStorageError(errors.Wrapf(err, "commit tree %q", t.name))
	}
}

func get(txn *badger.Txn, key []byte) ([]byte, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WithStack(err)
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "copy value")
	}
	return value, true, nil
}

package engine

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// TxTree 事务内的树句柄，仅在 Transaction 的闭包执行期间、在执行闭包的 goroutine 上有效。
// 闭包返回（或者引擎重试）之后所有方法返回 ErrTxTreeClosed。
type TxTree struct {
	tree    *Tree
	txn     *badger.Txn
	flushed bool
	closed  bool
}

func newTxTree(tree *Tree, txn *badger.Txn) *TxTree {
	return &TxTree{
		tree: tree,
		txn:  txn,
	}
}

func (t *TxTree) invalidate() {
	t.closed = true
	t.txn = nil
}

func (t *TxTree) Name() string {
	return t.tree.name
}

// Get 读取 key，可以看到本事务内尚未提交的写入
func (t *TxTree) Get(key []byte) ([]byte, bool, error) {
	if t.closed {
		return nil, false, ErrTxTreeClosed
	}
	if len(key) == 0 {
		return nil, false, ErrEmptyKey
	}
	return get(t.txn, t.tree.key(key))
}

// Insert 写入 key，返回本事务视角下 key 此前的值
func (t *TxTree) Insert(key, value []byte) ([]byte, bool, error) {
	prev, found, err := t.Get(key)
	if err != nil {
		return nil, false, err
	}

	// 提交前 badger 持有 value 引用，拷贝一份避免调用方复用切片
	v := make([]byte, len(value))
	copy(v, value)
	if err := t.txn.Set(t.tree.key(key), v); err != nil {
		return nil, false, errors.Wrapf(err, "insert into tree %q", t.tree.name)
	}
	return prev, found, nil
}

// Remove 删除 key，返回本事务视角下 key 此前的值
func (t *TxTree) Remove(key []byte) ([]byte, bool, error) {
	prev, found, err := t.Get(key)
	if err != nil || !found {
		return nil, false, err
	}
	if err := t.txn.Delete(t.tree.key(key)); err != nil {
		return nil, false, errors.Wrapf(err, "remove from tree %q", t.tree.name)
	}
	return prev, true, nil
}

// Flush 要求事务提交后立即把数据刷盘
func (t *TxTree) Flush() error {
	if t.closed {
		return ErrTxTreeClosed
	}
	t.flushed = true
	return nil
}

package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, opts ...Option) *DB {
	db, err := Open(NewOptions(append([]Option{WithTemporary()}, opts...)...))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func Test_Open_requires_path(t *testing.T) {
	_, err := Open(NewOptions())
	assert.Equal(t, true, err != nil)
}

func Test_Tree_crud(t *testing.T) {
	db := newTestDB(t)
	tree := db.DefaultTree()

	prev, found, err := tree.Insert([]byte("a"), []byte("1"))
	assert.Equal(t, nil, err)
	assert.Equal(t, false, found)
	assert.Nil(t, prev)

	prev, found, err = tree.Insert([]byte("a"), []byte("2"))
	assert.Equal(t, nil, err)
	assert.Equal(t, true, found)
	assert.Equal(t, []byte("1"), prev)

	value, found, err := tree.Get([]byte("a"))
	assert.Equal(t, nil, err)
	assert.Equal(t, true, found)
	assert.Equal(t, []byte("2"), value)

	prev, found, err = tree.Remove([]byte("a"))
	assert.Equal(t, nil, err)
	assert.Equal(t, true, found)
	assert.Equal(t, []byte("2"), prev)

	ok, err := tree.ContainsKey([]byte("a"))
	assert.Equal(t, nil, err)
	assert.Equal(t, false, ok)

	_, found, err = tree.Remove([]byte("a"))
	assert.Equal(t, nil, err)
	assert.Equal(t, false, found)
}

func Test_Tree_isolation(t *testing.T) {
	db := newTestDB(t)
	users, err := db.OpenTree("users")
	require.NoError(t, err)
	// 长度前缀保证 "a" + "b/x" 与 "a/b" + "x" 不会落到同一个物理 key
	a, err := db.OpenTree("a")
	require.NoError(t, err)
	ab, err := db.OpenTree("a/b")
	require.NoError(t, err)

	_, _, err = users.Insert([]byte("k"), []byte("users"))
	require.NoError(t, err)
	_, _, err = a.Insert([]byte("b/x"), []byte("a"))
	require.NoError(t, err)

	_, found, err := db.DefaultTree().Get([]byte("k"))
	assert.Equal(t, nil, err)
	assert.Equal(t, false, found)

	_, found, err = ab.Get([]byte("x"))
	assert.Equal(t, nil, err)
	assert.Equal(t, false, found)

	again, err := db.OpenTree("users")
	require.NoError(t, err)
	assert.Equal(t, users, again)

	names, err := db.TreeNames()
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"a", "a/b", "users"}, names)
}

func Test_Tree_Transaction(t *testing.T) {
	db := newTestDB(t)
	tree := db.DefaultTree()
	_, _, err := tree.Insert([]byte("a"), []byte("1"))
	require.NoError(t, err)

	tests := []struct {
		name string
		f    func()
	}{
		{
			name: "commit",
			f: func() {
				err := tree.Transaction(func(tx *TxTree) error {
					prev, found, err := tx.Insert([]byte("b"), []byte("2"))
					assert.Equal(t, nil, err)
					assert.Equal(t, false, found)
					assert.Nil(t, prev)
					// 事务内可以读到自己的写入
					value, found, err := tx.Get([]byte("b"))
					assert.Equal(t, nil, err)
					assert.Equal(t, true, found)
					assert.Equal(t, []byte("2"), value)
					return tx.Flush()
				})
				assert.Equal(t, nil, err)
				value, _, _ := tree.Get([]byte("b"))
				assert.Equal(t, []byte("2"), value)
			},
		},
		{
			name: "abort",
			f: func() {
				reason := errors.New("user abort")
				err := tree.Transaction(func(tx *TxTree) error {
					if _, _, err := tx.Insert([]byte("a"), []byte("100")); err != nil {
						return err
					}
					if _, _, err := tx.Remove([]byte("b")); err != nil {
						return err
					}
					return Abort(reason)
				})
				var abortErr *AbortError
				assert.Equal(t, true, errors.As(err, &abortErr))
				assert.Equal(t, true, errors.Is(err, reason))
				value, _, _ := tree.Get([]byte("a"))
				assert.Equal(t, []byte("1"), value)
				value, _, _ = tree.Get([]byte("b"))
				assert.Equal(t, []byte("2"), value)
			},
		},
		{
			name: "storage error",
			f: func() {
				err := tree.Transaction(func(tx *TxTree) error {
					if _, _, err := tx.Insert([]byte("c"), []byte("3")); err != nil {
						return err
					}
					_, _, err := tx.Insert(nil, []byte("x"))
					return err
				})
				var storageErr *StorageError
				assert.Equal(t, true, errors.As(err, &storageErr))
				assert.Equal(t, true, errors.Is(err, ErrEmptyKey))
				_, found, _ := tree.Get([]byte("c"))
				assert.Equal(t, false, found)
			},
		},
		{
			name: "handle invalid after return",
			f: func() {
				var leaked *TxTree
				err := tree.Transaction(func(tx *TxTree) error {
					leaked = tx
					return nil
				})
				assert.Equal(t, nil, err)
				_, _, err = leaked.Insert([]byte("d"), []byte("4"))
				assert.Equal(t, ErrTxTreeClosed, err)
				assert.Equal(t, ErrTxTreeClosed, leaked.Flush())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.f()
		})
	}
}

func Test_Tree_Transaction_conflict_retry(t *testing.T) {
	db := newTestDB(t, WithConflictRetries(1))
	tree := db.DefaultTree()

	var attempts int
	err := tree.Transaction(func(tx *TxTree) error {
		attempts++
		prev, _, err := tx.Insert([]byte("a"), []byte("tx"))
		if err != nil {
			return err
		}
		if attempts == 1 {
			// 事务读过 a 之后，另一笔事务先提交了 a，提交时必然冲突
			_, _, err = tree.Insert([]byte("a"), []byte("other"))
			assert.Equal(t, nil, err)
		} else {
			assert.Equal(t, []byte("other"), prev)
		}
		return nil
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, attempts)
	value, _, _ := tree.Get([]byte("a"))
	assert.Equal(t, []byte("tx"), value)
}

func Test_Tree_Transaction_conflict_exhausted(t *testing.T) {
	db := newTestDB(t, WithConflictRetries(0))
	tree := db.DefaultTree()

	var attempts int
	err := tree.Transaction(func(tx *TxTree) error {
		attempts++
		if _, _, err := tx.Insert([]byte("a"), []byte("tx")); err != nil {
			return err
		}
		_, _, err := tree.Insert([]byte("a"), []byte("other"))
		return err
	})
	var storageErr *StorageError
	assert.Equal(t, true, errors.As(err, &storageErr))
	assert.Equal(t, true, errors.Is(err, ErrConflict))
	assert.Equal(t, 1, attempts)
	value, _, _ := tree.Get([]byte("a"))
	assert.Equal(t, []byte("other"), value)
}

func Test_badgerLogger(t *testing.T) {
	l := newBadgerLogger(NewOptions().Logger)
	l.Errorf("error %d\n", 1)
	l.Warningf("warn %d\n", 1)
	l.Infof("info %d\n", 1)
	l.Debugf("debug %d\n", 1)
	assert.Equal(t, "x", trim("x\n\n"))
}

func Test_Tree_Transaction_on_disk(t *testing.T) {
	path := t.TempDir()
	db, err := Open(NewOptions(WithPath(path)))
	require.NoError(t, err)
	tree := db.DefaultTree()

	// 提交后刷盘
	err = tree.Transaction(func(tx *TxTree) error {
		if _, _, err := tx.Insert([]byte("a"), []byte("1")); err != nil {
			return err
		}
		return tx.Flush()
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(1), db.synced.Load())

	// 回滚时不刷盘，写入全部丢弃
	err = tree.Transaction(func(tx *TxTree) error {
		if _, _, err := tx.Insert([]byte("a"), []byte("2")); err != nil {
			return err
		}
		if _, _, err := tx.Insert([]byte("b"), []byte("2")); err != nil {
			return err
		}
		if err := tx.Flush(); err != nil {
			return err
		}
		return Abort(errors.New("user abort"))
	})
	var abortErr *AbortError
	assert.Equal(t, true, errors.As(err, &abortErr))
	assert.Equal(t, int64(1), db.synced.Load())

	// 没有 Flush 的提交不刷盘
	_, _, err = tree.Insert([]byte("c"), []byte("3"))
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(1), db.synced.Load())

	require.NoError(t, db.Close())

	db, err = Open(NewOptions(WithPath(path)))
	require.NoError(t, err)
	defer db.Close()
	tree = db.DefaultTree()

	value, found, err := tree.Get([]byte("a"))
	assert.Equal(t, nil, err)
	assert.Equal(t, true, found)
	assert.Equal(t, []byte("1"), value)
	_, found, _ = tree.Get([]byte("b"))
	assert.Equal(t, false, found)
	value, _, _ = tree.Get([]byte("c"))
	assert.Equal(t, []byte("3"), value)
}

func Test_Tree_Transaction_sync_failed(t *testing.T) {
	db, err := Open(NewOptions(WithPath(t.TempDir())))
	require.NoError(t, err)
	defer db.Close()
	db.sync = func() error {
		return errors.New("disk unavailable")
	}
	tree := db.DefaultTree()

	err = tree.Transaction(func(tx *TxTree) error {
		if _, _, err := tx.Insert([]byte("a"), []byte("1")); err != nil {
			return err
		}
		return tx.Flush()
	})
	var (
		syncErr    *SyncError
		storageErr *StorageError
	)
	assert.Equal(t, true, errors.As(err, &syncErr))
	assert.Equal(t, false, errors.As(err, &storageErr))
	assert.Contains(t, err.Error(), "disk unavailable")
	assert.Equal(t, int64(0), db.synced.Load())

	// 提交已经生效
	value, found, err := tree.Get([]byte("a"))
	assert.Equal(t, nil, err)
	assert.Equal(t, true, found)
	assert.Equal(t, []byte("1"), value)
}

func Test_Open_options(t *testing.T) {
	tests := []struct {
		name string
		f    func(t *testing.T)
	}{
		{
			name: "create new on empty dir",
			f: func(t *testing.T) {
				db, err := Open(NewOptions(WithPath(t.TempDir()), WithCreateNew()))
				require.NoError(t, err)
				assert.Equal(t, nil, db.Close())
			},
		},
		{
			name: "create new on existing db",
			f: func(t *testing.T) {
				path := t.TempDir()
				db, err := Open(NewOptions(WithPath(path)))
				require.NoError(t, err)
				require.NoError(t, db.Close())

				_, err = Open(NewOptions(WithPath(path), WithCreateNew()))
				assert.Equal(t, true, errors.Is(err, ErrDBExists))
			},
		},
		{
			name: "low space mode",
			f: func(t *testing.T) {
				db, err := Open(NewOptions(WithPath(t.TempDir()), WithMode(ModeLowSpace), WithPrintProfileOnClose()))
				require.NoError(t, err)
				assert.Equal(t, ModeLowSpace, db.Options().Mode)
				_, _, err = db.DefaultTree().Insert([]byte("a"), []byte("1"))
				assert.Equal(t, nil, err)
				assert.Equal(t, nil, db.Close())
				assert.Equal(t, ErrDBClosed, db.Close())
			},
		},
		{
			name: "unknown mode",
			f: func(t *testing.T) {
				assert.Equal(t, ModeHighThroughput, NewOptions(WithMode("fast")).Mode)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.f)
	}
}

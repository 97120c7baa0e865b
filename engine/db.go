package engine

import (
	"encoding/binary"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/pkg/errors"
)

const (
	// 数据 key 前缀：'t' + uvarint(len(tree)) + tree + key
	dataPrefix byte = 't'
	// 树元数据前缀：'m' + tree
	metaPrefix byte = 'm'
)

// DB 嵌入式存储引擎，底层为 badger，按树名划分 key 空间
type DB struct {
	opts Options
	bdb  *badger.DB

	mux   sync.RWMutex
	trees map[string]*Tree

	// 刷盘实现与成功刷盘的次数
	sync   func() error
	synced atomic.Int64
}

// Open 打开存储引擎
func Open(opts Options) (*DB, error) {
	repair(&opts)
	if !opts.Temporary && opts.Path == "" {
		return nil, errors.New("engine: path is required unless temporary")
	}
	if opts.CreateNew && !opts.Temporary {
		if err := checkNew(opts.Path); err != nil {
			return nil, err
		}
	}

	bopts := badger.DefaultOptions(opts.Path)
	if opts.Temporary {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.
		WithLogger(newBadgerLogger(opts.Logger)).
		WithSyncWrites(opts.SyncWrites).
		WithReadOnly(opts.ReadOnly)
	if opts.Mode == ModeLowSpace {
		bopts = bopts.
			WithNumMemtables(1).
			WithMemTableSize(16 << 20).
			WithValueLogFileSize(64 << 20)
	}
	if opts.CacheCapacity > 0 {
		bopts = bopts.WithBlockCacheSize(opts.CacheCapacity)
	}
	if opts.UseCompression {
		bopts = bopts.WithCompression(options.ZSTD)
		if opts.CompressionFactor > 0 {
			bopts = bopts.WithZSTDCompressionLevel(opts.CompressionFactor)
		}
	} else {
		bopts = bopts.WithCompression(options.None)
	}

	bdb, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrapf(err, "engine: open badger at %q", opts.Path)
	}

	return &DB{
		opts:  opts,
		bdb:   bdb,
		trees: make(map[string]*Tree),
		sync:  bdb.Sync,
	}, nil
}

// checkNew 数据目录不存在或者为空
func checkNew(path string) error {
	entries, err := os.ReadDir(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "engine: inspect %q", path)
	}
	if len(entries) > 0 {
		return errors.Wrapf(ErrDBExists, "engine: %q", path)
	}
	return nil
}

// Options 返回引擎生效的配置
func (d *DB) Options() Options {
	return d.opts
}

// DefaultTree 默认树
func (d *DB) DefaultTree() *Tree {
	tree, _ := d.cachedTree("")
	return tree
}

// OpenTree 打开（必要时创建）一棵命名树，空名字等价于默认树
func (d *DB) OpenTree(name string) (*Tree, error) {
	if tree, ok := d.cachedTree(name); ok || name == "" {
		return tree, nil
	}

	if !d.opts.ReadOnly {
		if err := d.bdb.Update(func(txn *badger.Txn) error {
			return txn.Set(metaKey(name), []byte{})
		}); err != nil {
			return nil, errors.Wrapf(err, "engine: register tree %q", name)
		}
	}

	d.mux.Lock()
	defer d.mux.Unlock()
	if tree, ok := d.trees[name]; ok {
		return tree, nil
	}
	tree := newTree(d, name)
	d.trees[name] = tree
	return tree, nil
}

func (d *DB) cachedTree(name string) (*Tree, bool) {
	d.mux.RLock()
	tree, ok := d.trees[name]
	d.mux.RUnlock()
	if ok || name != "" {
		return tree, ok
	}

	d.mux.Lock()
	defer d.mux.Unlock()
	if tree, ok = d.trees[name]; !ok {
		tree = newTree(d, name)
		d.trees[name] = tree
	}
	return tree, true
}

// TreeNames 返回所有已注册的命名树，按字典序排列
func (d *DB) TreeNames() ([]string, error) {
	var names []string
	err := d.bdb.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{metaPrefix}})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[1:]))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "engine: list trees")
	}
	sort.Strings(names)
	return names, nil
}

// Sync 强制把缓冲数据刷到磁盘，纯内存模式下什么都不做
func (d *DB) Sync() error {
	if d.opts.Temporary {
		return nil
	}
	if err := d.sync(); err != nil {
		return errors.Wrap(err, "engine: sync")
	}
	d.synced.Add(1)
	return nil
}

// Close 关闭引擎
func (d *DB) Close() error {
	if d.bdb.IsClosed() {
		return ErrDBClosed
	}
	if d.opts.PrintProfileOnClose {
		lsm, vlog := d.bdb.Size()
		d.opts.Logger.Infof("engine profile, path: %q, mode: %s, lsm bytes: %d, vlog bytes: %d, tables: %d, syncs: %d",
			d.opts.Path, d.opts.Mode, lsm, vlog, len(d.bdb.Tables()), d.synced.Load())
	}
	return errors.Wrap(d.bdb.Close(), "engine: close")
}

func metaKey(name string) []byte {
	return append([]byte{metaPrefix}, name...)
}

func treePrefix(name string) []byte {
	prefix := make([]byte, 1+binary.MaxVarintLen64+len(name))
	prefix[0] = dataPrefix
	n := binary.PutUvarint(prefix[1:], uint64(len(name)))
	n += copy(prefix[1+n:], name)
	return prefix[:1+n]
}

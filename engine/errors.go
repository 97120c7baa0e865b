package engine

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

var (
	// ErrTxTreeClosed 事务闭包已经返回（或者引擎正在重试），事务句柄不可再用
	ErrTxTreeClosed = errors.New("transactional tree used outside of its transaction")
	// ErrEmptyKey 空 key
	ErrEmptyKey = badger.ErrEmptyKey
	// ErrConflict 提交时检测到写冲突
	ErrConflict = badger.ErrConflict
	// ErrDBClosed 数据库已关闭
	ErrDBClosed = errors.New("db closed")
	// ErrDBExists 要求新建，但数据目录下已有数据
	ErrDBExists = errors.New("db already exists")
)

// AbortError 事务闭包主动放弃，引擎会回滚本次尝试的全部写入
type AbortError struct {
	Reason error
}

// Abort 在事务闭包中返回该错误，引擎回滚并原样上抛 reason
func Abort(reason error) error {
	return &AbortError{Reason: reason}
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("transaction aborted: %v", e.Reason)
}

func (e *AbortError) Unwrap() error {
	return e.Reason
}

// StorageError 引擎层面的失败：写入、读取或者提交出错
type StorageError struct {
	Err error
}

func newStorageError(err error) *StorageError {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr
	}
	return &StorageError{Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %v", e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// SyncError 事务已经提交，但提交后的刷盘失败。写入对后续读可见，只是落盘没有得到确认
type SyncError struct {
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("committed but sync failed: %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

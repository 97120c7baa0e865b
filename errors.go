package txbridge

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnected worker 已经结束、句柄已被丢弃，或者终结命令已被接收
	ErrDisconnected = errors.New("transaction disconnected")
	// ErrUserAbort 调用方主动回滚
	ErrUserAbort = errors.New("transaction aborted by user")
)

// InternalAbortError worker 无法为请求构造回复，只能放弃整个事务，否则调用方与 worker 的协议会错位
type InternalAbortError struct {
	Diagnostic string
}

func (e *InternalAbortError) Error() string {
	return fmt.Sprintf("transaction aborted internally: %s", e.Diagnostic)
}

// ErrRestarted 提交时存储引擎检测到写冲突并重新执行了事务，之前发送的命令全部作废且不会重放。
// 调用方需要重新发送命令后再次提交，或者回滚
var ErrRestarted = errors.New("transaction restarted after a write conflict, previous commands were discarded")

package txbridge

import (
	"fmt"

	"github.com/xiaoxuxiansheng/txbridge/journal"
)

// Message worker 发往调用方的消息：*Started、*Reply 或 *Completion
type Message interface {
	TransactionID() string
	isMessage()
}

// Started 每次进入引擎的事务闭包发送一次，Attempt > 1 说明引擎因写冲突重新执行了事务，
// 此前已经被消费的命令不会重放
type Started struct {
	TXID    string
	Attempt int
}

// Reply 非终结命令的回复。Insert/Remove 携带 key 此前的值，Get 携带当前值，Flush 仅为 ack
type Reply struct {
	TXID  string
	Token string
	Kind  CommandKind
	Value []byte
	Found bool
}

// Completion 事务终态，每笔事务恰好一条。Token 为触发终结的 Close/Abort 请求的 token，断开时为空
type Completion struct {
	TXID    string
	Token   string
	Outcome Outcome
}

func (s *Started) TransactionID() string    { return s.TXID }
func (r *Reply) TransactionID() string      { return r.TXID }
func (c *Completion) TransactionID() string { return c.TXID }

func (*Started) isMessage()    {}
func (*Reply) isMessage()      {}
func (*Completion) isMessage() {}

// 事务终态
type OutcomeStatus string

const (
	OutcomeCommitted    OutcomeStatus = "committed"
	OutcomeAborted      OutcomeStatus = "aborted"
	OutcomeStorageError OutcomeStatus = "storage_error"
)

func (o OutcomeStatus) String() string {
	return string(o)
}

// 事务被放弃的原因
type AbortReason string

const (
	// 调用方主动 abort
	AbortUserAbort AbortReason = "user_abort"
	// 调用方断开
	AbortDisconnected AbortReason = "disconnected"
	// worker 无法构造回复
	AbortInternal AbortReason = "internal"
)

func (a AbortReason) String() string {
	return string(a)
}

type Outcome struct {
	Status OutcomeStatus
	// 仅 Status 为 OutcomeAborted 时有值
	Reason AbortReason
	// 存储引擎错误原文或内部错误诊断信息；提交成功但刷盘失败时为刷盘错误
	Detail string
	// 进入事务闭包的次数
	Attempts int

	err error
}

func (o Outcome) Committed() bool {
	return o.Status == OutcomeCommitted
}

// Err 提交成功返回 nil，否则返回 ErrUserAbort、ErrDisconnected、*InternalAbortError 或 *engine.StorageError
func (o Outcome) Err() error {
	if o.Status == OutcomeCommitted {
		return nil
	}
	if o.err != nil {
		return o.err
	}
	switch o.Reason {
	case AbortUserAbort:
		return ErrUserAbort
	case AbortDisconnected:
		return ErrDisconnected
	case AbortInternal:
		return &InternalAbortError{Diagnostic: o.Detail}
	}
	return fmt.Errorf("%s: %s", o.Status, o.Detail)
}

func (o Outcome) String() string {
	switch o.Status {
	case OutcomeCommitted:
		if o.Detail != "" {
			return fmt.Sprintf("%s(%s)", o.Status, o.Detail)
		}
		return o.Status.String()
	case OutcomeAborted:
		if o.Detail != "" {
			return fmt.Sprintf("%s(%s: %s)", o.Status, o.Reason, o.Detail)
		}
		return fmt.Sprintf("%s(%s)", o.Status, o.Reason)
	default:
		return fmt.Sprintf("%s(%s)", o.Status, o.Detail)
	}
}

func (o Outcome) journalResult() journal.Result {
	result := journal.Result{
		Reason: o.Reason.String(),
		Detail: o.Detail,
	}
	switch o.Status {
	case OutcomeCommitted:
		result.Status = journal.TXCommitted
	case OutcomeAborted:
		result.Status = journal.TXAborted
	default:
		result.Status = journal.TXFailed
	}
	return result
}

package txbridge

import (
	"context"
	"errors"
	"runtime"

	"github.com/google/uuid"
)

// Transaction 调用方持有的事务句柄，背后是一个常驻在存储引擎事务闭包内的 worker。
// 调用方必须最终发送 Close 或 Abort（Commit/Rollback），或者调用 Drop；否则 worker 会一直阻塞等待命令。
// 句柄可以被多个 goroutine 并发使用，命令按 worker 接收的顺序逐条执行。
type Transaction struct {
	s *session
}

func newTransaction(s *session) *Transaction {
	t := &Transaction{s: s}
	// 句柄被回收时视同调用方断开
	runtime.SetFinalizer(t, (*Transaction).finalize)
	return t
}

func (t *Transaction) finalize() {
	t.s.drop()
}

// ID 全局唯一的事务 id
func (t *Transaction) ID() string {
	return t.s.txID
}

// Tree 事务所在的树
func (t *Transaction) Tree() string {
	return t.s.tree.Name()
}

// Messages 接收 Started 与 Completion
func (t *Transaction) Messages() <-chan Message {
	return t.s.mailbox
}

// Done 事务结束后关闭
func (t *Transaction) Done() <-chan struct{} {
	return t.s.done
}

// Send 把请求同步交给 worker，worker 接收之前一直阻塞。
// worker 已经结束、句柄已经 Drop、或者终结命令已被接收时返回 ErrDisconnected；
// ctx 取消只影响本次发送，不影响事务本身。
func (t *Transaction) Send(ctx context.Context, req *Request) error {
	if req == nil {
		return errors.New("nil request")
	}

	s := t.s
	select {
	case <-s.dropped:
		return ErrDisconnected
	case <-s.done:
		return ErrDisconnected
	default:
	}
	if s.terminal.Load() {
		return ErrDisconnected
	}

	select {
	case s.requests <- req:
		return nil
	case <-s.done:
		return ErrDisconnected
	case <-s.dropped:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do 发送一条非终结命令并等待它的回复
func (t *Transaction) Do(ctx context.Context, cmd Command) (*Reply, error) {
	if cmd.Kind.Terminal() {
		return nil, errors.New("terminal command, use Commit or Rollback")
	}

	replyCh := make(chan Message, 1)
	req := &Request{
		Caller:  t.s.txID,
		Token:   uuid.NewString(),
		ReplyTo: replyCh,
		Command: cmd,
	}
	if err := t.Send(ctx, req); err != nil {
		return nil, err
	}

	select {
	case msg := <-replyCh:
		return msg.(*Reply), nil
	case <-t.s.done:
		select {
		case msg := <-replyCh:
			return msg.(*Reply), nil
		default:
		}
		if err := t.s.outcome.Err(); err != nil {
			return nil, err
		}
		return nil, ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Insert 写入 key，返回事务内 key 此前的值
func (t *Transaction) Insert(ctx context.Context, key, value []byte) ([]byte, bool, error) {
	reply, err := t.Do(ctx, InsertCommand(key, value))
	if err != nil {
		return nil, false, err
	}
	return reply.Value, reply.Found, nil
}

// Get 读取 key，可以看到本事务尚未提交的写入
func (t *Transaction) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	reply, err := t.Do(ctx, GetCommand(key))
	if err != nil {
		return nil, false, err
	}
	return reply.Value, reply.Found, nil
}

// Remove 删除 key，返回事务内 key 此前的值
func (t *Transaction) Remove(ctx context.Context, key []byte) ([]byte, bool, error) {
	reply, err := t.Do(ctx, RemoveCommand(key))
	if err != nil {
		return nil, false, err
	}
	return reply.Value, reply.Found, nil
}

// Flush 要求事务提交后刷盘
func (t *Transaction) Flush(ctx context.Context) error {
	_, err := t.Do(ctx, FlushCommand())
	return err
}

// Commit 发送 Close 并等待事务终态。
// 引擎提交时遇到写冲突并重新执行事务时返回 ErrRestarted，此时事务仍然存活，
// 调用方需要重新发送全部命令后再次 Commit，或者 Rollback。
func (t *Transaction) Commit(ctx context.Context) (Outcome, error) {
	return t.finish(ctx, CloseCommand())
}

// Rollback 发送 Abort 并等待事务终态，正常回滚时返回的 error 为 ErrUserAbort
func (t *Transaction) Rollback(ctx context.Context) (Outcome, error) {
	return t.finish(ctx, AbortCommand())
}

func (t *Transaction) finish(ctx context.Context, cmd Command) (Outcome, error) {
	restart := t.s.generation()
	if err := t.Send(ctx, &Request{Caller: t.s.txID, Token: uuid.NewString(), Command: cmd}); err != nil {
		return Outcome{}, err
	}

	select {
	case <-t.s.done:
		return t.s.outcome, t.s.outcome.Err()
	case <-restart:
		return Outcome{}, ErrRestarted
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Wait 等待事务终态
func (t *Transaction) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.s.done:
		return t.s.outcome, t.s.outcome.Err()
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Drop 断开与 worker 的连接，worker 以 Aborted(Disconnected) 结束事务。可重复调用
func (t *Transaction) Drop() {
	runtime.SetFinalizer(t, nil)
	t.s.drop()
}

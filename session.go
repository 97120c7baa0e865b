package txbridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaoxuxiansheng/txbridge/engine"
)

// session 调用方句柄与 worker 之间共享的状态。worker 只持有 session，不持有 *Transaction，
// 这样句柄被回收时 finalizer 才有机会运行
type session struct {
	txID      string
	tree      *engine.Tree
	createdAt time.Time

	// 无缓冲，调用方与 worker 一手交钱一手交货
	requests chan *Request
	// 调用方断开
	dropped  chan struct{}
	dropOnce sync.Once
	// worker 结束，outcome 可读
	done    chan struct{}
	outcome Outcome
	// 调用方收件箱：Started 与 Completion
	mailbox chan Message

	// 当前尝试已经接收了 Close/Abort
	terminal atomic.Bool
	attempts atomic.Int32

	mux     sync.Mutex
	restart chan struct{}
}

func newSession(txID string, tree *engine.Tree, mailboxSize int) *session {
	return &session{
		txID:      txID,
		tree:      tree,
		createdAt: time.Now(),
		requests:  make(chan *Request),
		dropped:   make(chan struct{}),
		done:      make(chan struct{}),
		mailbox:   make(chan Message, mailboxSize),
		restart:   make(chan struct{}),
	}
}

func (s *session) drop() {
	s.dropOnce.Do(func() {
		close(s.dropped)
	})
}

func (s *session) isDropped() bool {
	select {
	case <-s.dropped:
		return true
	default:
		return false
	}
}

// generation 返回当前尝试的重启信号，引擎重试时关闭
func (s *session) generation() <-chan struct{} {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.restart
}

func (s *session) restarted() {
	s.mux.Lock()
	defer s.mux.Unlock()
	close(s.restart)
	s.restart = make(chan struct{})
}

func (s *session) finish(outcome Outcome) {
	s.outcome = outcome
	close(s.done)
}

// TransactionInfo 执行中事务的快照
type TransactionInfo struct {
	TXID      string
	Tree      string
	Attempts  int
	CreatedAt time.Time
}

func (s *session) info() TransactionInfo {
	return TransactionInfo{
		TXID:      s.txID,
		Tree:      s.tree.Name(),
		Attempts:  int(s.attempts.Load()),
		CreatedAt: s.createdAt,
	}
}

package txbridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiaoxuxiansheng/txbridge/engine"
	"github.com/xiaoxuxiansheng/txbridge/journal"
	"github.com/xiaoxuxiansheng/txbridge/log"
	"github.com/xiaoxuxiansheng/txbridge/metrics"
)

// worker 为一笔事务常驻在存储引擎的事务闭包内，逐条接收命令、作用到事务句柄上并回复调用方。
// 状态流转：Entering（引擎执行闭包）-> Relaying（循环接收命令）-> Closing（收到 Close/Abort 或调用方断开）-> Terminated
type worker struct {
	s        *session
	journal  journal.Store
	metrics  *metrics.Metrics
	registry *registry

	attempt int
	// 触发终结的请求 token
	token string
}

func newWorker(s *session, store journal.Store, m *metrics.Metrics, r *registry) *worker {
	return &worker{
		s:        s,
		journal:  store,
		metrics:  m,
		registry: r,
	}
}

func (w *worker) run() {
	err := w.s.tree.Transaction(w.relay)
	w.complete(w.outcome(err))
}

// relay 即引擎的事务闭包，引擎遇到写冲突时会用新的 tx 再次调用
func (w *worker) relay(tx *engine.TxTree) error {
	w.enter()

	for {
		// 调用方已断开时优先处理断开，不再接收新命令
		if w.s.isDropped() {
			return engine.Abort(ErrDisconnected)
		}

		var req *Request
		select {
		case req = <-w.s.requests:
		case <-w.s.dropped:
			return engine.Abort(ErrDisconnected)
		}

		if done, err := w.apply(tx, req); done {
			return err
		}
	}
}

// Entering
func (w *worker) enter() {
	w.attempt++
	w.token = ""
	w.s.attempts.Store(int32(w.attempt))
	w.s.terminal.Store(false)
	w.metrics.Attempt()

	if w.attempt == 1 {
		log.Debugf("tx: %s entered, tree: %q", w.s.txID, w.s.tree.Name())
	}

	if err := w.journal.TXAttempt(context.Background(), w.s.txID, w.attempt); err != nil {
		log.Errorf("tx attempt record failed, tx id: %s, attempt: %d, err: %v", w.s.txID, w.attempt, err)
	}

	// 给 Completion 预留一个位置，收件箱满时丢弃 Started
	if len(w.s.mailbox) < cap(w.s.mailbox)-1 {
		w.s.mailbox <- &Started{TXID: w.s.txID, Attempt: w.attempt}
	} else {
		log.Warnf("tx: %s mailbox full, started notification dropped, attempt: %d", w.s.txID, w.attempt)
	}

	if w.attempt > 1 {
		// 上一次尝试消费掉的命令不会重放，只能靠 Started 与 ErrRestarted 告知调用方
		log.Warnf("tx: %s restarted by storage engine, attempt: %d, commands of the previous attempt were discarded", w.s.txID, w.attempt)
		w.s.restarted()
	}
}

// apply 执行一条命令，done 为 true 时闭包以 err 返回
func (w *worker) apply(tx *engine.TxTree, req *Request) (done bool, err error) {
	cmd := req.Command
	w.metrics.Command(cmd.Kind.String())
	log.Debugf("tx: %s apply %s, caller: %s, token: %s", w.s.txID, cmd.Kind, req.Caller, req.Token)

	switch cmd.Kind {
	case CommandClose:
		w.s.terminal.Store(true)
		w.token = req.Token
		return true, nil
	case CommandAbort:
		w.s.terminal.Store(true)
		w.token = req.Token
		return true, engine.Abort(ErrUserAbort)
	case CommandInsert, CommandGet, CommandRemove, CommandFlush:
	default:
		return true, w.internalAbort("unknown command kind %d, caller: %s, token: %s", int(cmd.Kind), req.Caller, req.Token)
	}

	if req.ReplyTo == nil {
		return true, w.internalAbort("no reply address for %s request, caller: %s, token: %s", cmd.Kind, req.Caller, req.Token)
	}

	reply := Reply{
		TXID:  w.s.txID,
		Token: req.Token,
		Kind:  cmd.Kind,
	}
	switch cmd.Kind {
	case CommandInsert:
		reply.Value, reply.Found, err = tx.Insert(cmd.Key, cmd.Value)
	case CommandGet:
		reply.Value, reply.Found, err = tx.Get(cmd.Key)
	case CommandRemove:
		reply.Value, reply.Found, err = tx.Remove(cmd.Key)
	case CommandFlush:
		err = tx.Flush()
	}
	if err != nil {
		// 存储错误直接终结事务，是否重试只由引擎决定
		log.Errorf("tx: %s %s failed, token: %s, err: %v", w.s.txID, cmd.Kind, req.Token, err)
		return true, err
	}

	select {
	case req.ReplyTo <- &reply:
	case <-w.s.dropped:
		// 调用方已断开，下一轮循环按断开处理
	}
	return false, nil
}

func (w *worker) internalAbort(format string, args ...interface{}) error {
	diagnostic := fmt.Sprintf(format, args...)
	log.Errorf("tx: %s internal abort: %s", w.s.txID, diagnostic)
	return engine.Abort(&InternalAbortError{Diagnostic: diagnostic})
}

func (w *worker) outcome(err error) Outcome {
	outcome := Outcome{
		Attempts: w.attempt,
	}
	if err == nil {
		outcome.Status = OutcomeCommitted
		return outcome
	}

	var (
		abortErr    *engine.AbortError
		internalErr *InternalAbortError
		syncErr     *engine.SyncError
	)
	switch {
	case errors.As(err, &syncErr):
		// 已经提交，只是刷盘没有得到确认
		outcome.Status = OutcomeCommitted
		outcome.Detail = syncErr.Error()
	case errors.As(err, &abortErr):
		outcome.Status = OutcomeAborted
		switch {
		case errors.Is(abortErr.Reason, ErrUserAbort):
			outcome.Reason = AbortUserAbort
		case errors.Is(abortErr.Reason, ErrDisconnected):
			outcome.Reason = AbortDisconnected
		case errors.As(abortErr.Reason, &internalErr):
			outcome.Reason = AbortInternal
			outcome.Detail = internalErr.Diagnostic
			outcome.err = internalErr
		default:
			outcome.Reason = AbortInternal
			outcome.Detail = abortErr.Reason.Error()
		}
	default:
		// 引擎对闭包以外的错误统一包装为 *engine.StorageError
		outcome.Status = OutcomeStorageError
		var storageErr *engine.StorageError
		if errors.As(err, &storageErr) {
			outcome.Detail = storageErr.Err.Error()
		} else {
			outcome.Detail = err.Error()
		}
		outcome.err = err
	}
	return outcome
}

// Terminated：落日志、指标，投递唯一一条 Completion，然后唤醒等待方
func (w *worker) complete(outcome Outcome) {
	if err := w.journal.TXSubmit(context.Background(), w.s.txID, outcome.journalResult()); err != nil {
		log.Errorf("tx submit failed, tx id: %s, outcome: %s, err: %v", w.s.txID, outcome, err)
	}
	w.metrics.Completed(outcome.Status.String(), outcome.Reason.String())
	w.registry.unregister(w.s.txID)

	switch {
	case outcome.Status == OutcomeCommitted && outcome.Detail != "":
		log.Warnf("tx: %s committed without a confirmed sync, detail: %s, attempts: %d", w.s.txID, outcome.Detail, outcome.Attempts)
	case outcome.Status == OutcomeCommitted:
		log.Infof("tx: %s committed, attempts: %d", w.s.txID, outcome.Attempts)
	default:
		log.Warnf("tx: %s finished without commit, outcome: %s, attempts: %d", w.s.txID, outcome, outcome.Attempts)
	}

	select {
	case w.s.mailbox <- &Completion{TXID: w.s.txID, Token: w.token, Outcome: outcome}:
	default:
		log.Errorf("tx: %s mailbox full, completion not delivered, outcome: %s", w.s.txID, outcome)
	}
	w.s.finish(outcome)
}

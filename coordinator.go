package txbridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xiaoxuxiansheng/txbridge/engine"
	"github.com/xiaoxuxiansheng/txbridge/journal"
	"github.com/xiaoxuxiansheng/txbridge/log"
)

// 1. 为每笔事务创建事务日志、启动 worker
// 2. 记录执行中的事务
// 3. 监控长时间未结束的事务
type Coordinator struct {
	ctx      context.Context
	stop     context.CancelFunc
	db       *engine.DB
	opts     *Options
	registry *registry
}

func NewCoordinator(db *engine.DB, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	coordinator := Coordinator{
		ctx:      ctx,
		stop:     cancel,
		db:       db,
		opts:     &Options{},
		registry: newRegistry(),
	}

	for _, opt := range opts {
		opt(coordinator.opts)
	}

	repair(coordinator.opts)

	go coordinator.run()
	return &coordinator
}

// Stop 停止监控任务，不影响执行中的事务
func (c *Coordinator) Stop() {
	c.stop()
}

// Shutdown 停止监控任务，并等待所有 worker 结束或者 ctx 到期
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.stop()

	for {
		sessions := c.registry.sessions()
		if len(sessions) == 0 {
			return nil
		}
		for _, s := range sessions {
			select {
			case <-s.done:
			case <-ctx.Done():
				return fmt.Errorf("%d transactions still in flight, waiting on tx: %s: %w", c.registry.len(), s.txID, ctx.Err())
			}
		}
	}
}

// Open 在 tree 上开启一笔事务
func (c *Coordinator) Open(ctx context.Context, tree string) (*Transaction, error) {
	select {
	case <-c.ctx.Done():
		return nil, errors.New("coordinator stopped")
	default:
	}

	t, err := c.db.OpenTree(tree)
	if err != nil {
		return nil, err
	}

	// 1 先创建事务日志记录，并取得全局唯一的事务 id
	txID, err := c.opts.Journal.CreateTX(ctx, t.Name())
	if err != nil {
		return nil, err
	}

	s := newSession(txID, t, c.opts.MailboxSize)
	if err = c.registry.register(s); err != nil {
		c.discard(txID, err)
		return nil, err
	}

	// 2 worker 进入引擎的事务闭包，直到收到终结命令或者调用方断开。执行器满载时最多等到 ctx 结束
	if err = c.opts.Spawner.Spawn(ctx, newWorker(s, c.opts.Journal, c.opts.Metrics, c.registry).run); err != nil {
		c.registry.unregister(txID)
		c.discard(txID, err)
		return nil, fmt.Errorf("spawn worker for tx: %s: %w", txID, err)
	}
	c.opts.Metrics.Opened()
	log.InfoContextf(ctx, "tx: %s opened, tree: %q", txID, t.Name())
	return newTransaction(s), nil
}

// discard worker 没有启动，事务日志直接记为失败，避免残留 hanging 记录
func (c *Coordinator) discard(txID string, cause error) {
	result := journal.Result{
		Status: journal.TXFailed,
		Detail: fmt.Sprintf("worker not started: %v", cause),
	}
	if err := c.opts.Journal.TXSubmit(context.Background(), txID, result); err != nil {
		log.Errorf("tx submit failed, tx id: %s, err: %v", txID, err)
	}
}

// InFlight worker 尚未结束的事务数量
func (c *Coordinator) InFlight() int {
	return c.registry.len()
}

// Lookup 查询执行中的事务
func (c *Coordinator) Lookup(txID string) (TransactionInfo, bool) {
	s, ok := c.registry.get(txID)
	if !ok {
		return TransactionInfo{}, false
	}
	return s.info(), true
}

func (c *Coordinator) backOffTick(tick time.Duration) time.Duration {
	tick <<= 1
	if threshold := c.opts.MonitorTick << 3; tick > threshold {
		return threshold
	}
	return tick
}

func (c *Coordinator) run() {
	var tick time.Duration
	var err error
	for {
		// 如果出现了失败，tick 需要避让，遵循退避策略增大 tick 间隔时长
		if err == nil {
			tick = c.opts.MonitorTick
		} else {
			tick = c.backOffTick(tick)
		}
		select {
		case <-c.ctx.Done():
			return

		case <-time.After(tick):
			// 加锁，避免共享同一个事务日志的多个节点重复告警
			if err = c.opts.Journal.Lock(c.ctx, c.opts.MonitorTick); err != nil {
				// 取锁失败时（大概率被其他节点占有），不对 tick 进行退避升级
				err = nil
				continue
			}

			var txs []*journal.TXRecord
			if txs, err = c.opts.Journal.GetHangingTXs(c.ctx); err != nil {
				log.Errorf("get hanging txs failed, err: %v", err)
				_ = c.opts.Journal.Unlock(c.ctx)
				continue
			}

			c.reportStalled(txs)
			_ = c.opts.Journal.Unlock(c.ctx)
		}
	}
}

// reportStalled 只告警，不会取消事务：worker 阻塞在调用方身上，只有调用方能结束它
func (c *Coordinator) reportStalled(txs []*journal.TXRecord) int {
	createdBefore := time.Now().Add(-c.opts.StallThreshold)
	var stalled int
	for _, tx := range txs {
		if !tx.StalledSince(createdBefore) {
			continue
		}
		stalled++
		if _, local := c.registry.get(tx.TXID); local {
			log.Warnf("tx: %s stalled, tree: %q, attempts: %d, created at: %s", tx.TXID, tx.Tree, tx.Attempts, tx.CreatedAt.Format(time.RFC3339))
		} else {
			log.Warnf("tx: %s stalled and not owned by this process, tree: %q, created at: %s", tx.TXID, tx.Tree, tx.CreatedAt.Format(time.RFC3339))
		}
	}
	c.opts.Metrics.Stalled(stalled)
	return stalled
}

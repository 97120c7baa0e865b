package txbridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaoxuxiansheng/txbridge/journal"
	"github.com/xiaoxuxiansheng/txbridge/metrics"
)

func gather(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	next:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue next
				}
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func Test_Coordinator_InFlight_Lookup(t *testing.T) {
	ctx := testContext(t)
	c, _ := newTestCoordinator(t, nil)

	tx1, err := c.Open(ctx, "a")
	require.NoError(t, err)
	tx2, err := c.Open(ctx, "b")
	require.NoError(t, err)
	assert.NotEqual(t, tx1.ID(), tx2.ID())
	assert.Equal(t, 2, c.InFlight())

	_, _, err = tx1.Insert(ctx, []byte("k"), []byte("v"))
	require.NoError(t, err)

	info, ok := c.Lookup(tx1.ID())
	assert.Equal(t, true, ok)
	assert.Equal(t, tx1.ID(), info.TXID)
	assert.Equal(t, "a", info.Tree)
	assert.Equal(t, 1, info.Attempts)
	assert.Equal(t, false, info.CreatedAt.IsZero())

	_, err = tx1.Commit(ctx)
	require.NoError(t, err)
	tx2.Drop()
	_, _ = tx2.Wait(ctx)

	_, ok = c.Lookup(tx1.ID())
	assert.Equal(t, false, ok)
	assert.Equal(t, 0, c.InFlight())
}

func Test_Coordinator_Open_stopped(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	c.Stop()
	_, err := c.Open(testContext(t), "")
	assert.Equal(t, true, err != nil)
}

func Test_Coordinator_Shutdown(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	tx, err := c.Open(testContext(t), "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = c.Shutdown(ctx)
	assert.Equal(t, true, errors.Is(err, context.DeadlineExceeded))

	tx.Drop()
	assert.Equal(t, nil, c.Shutdown(testContext(t)))
}

func Test_Coordinator_metrics(t *testing.T) {
	ctx := testContext(t)
	reg := prometheus.NewRegistry()
	c, _ := newTestCoordinator(t, nil, WithMetrics(metrics.New(reg)))

	tx, err := c.Open(ctx, "")
	require.NoError(t, err)
	_, _, err = tx.Insert(ctx, []byte("a"), []byte("1"))
	require.NoError(t, err)
	assert.Equal(t, float64(1), gather(t, reg, "txbridge_transactions_in_flight", nil))
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	tx, err = c.Open(ctx, "")
	require.NoError(t, err)
	_, _ = tx.Rollback(ctx)

	assert.Equal(t, float64(2), gather(t, reg, "txbridge_transactions_opened_total", nil))
	assert.Equal(t, float64(2), gather(t, reg, "txbridge_transaction_attempts_total", nil))
	assert.Equal(t, float64(1), gather(t, reg, "txbridge_commands_total", map[string]string{"kind": "insert"}))
	assert.Equal(t, float64(1), gather(t, reg, "txbridge_commands_total", map[string]string{"kind": "close"}))
	assert.Equal(t, float64(1), gather(t, reg, "txbridge_commands_total", map[string]string{"kind": "abort"}))
	assert.Equal(t, float64(1), gather(t, reg, "txbridge_transaction_outcomes_total", map[string]string{"status": "committed", "reason": ""}))
	assert.Equal(t, float64(1), gather(t, reg, "txbridge_transaction_outcomes_total", map[string]string{"status": "aborted", "reason": "user_abort"}))
	assert.Equal(t, float64(0), gather(t, reg, "txbridge_transactions_in_flight", nil))
}

func Test_Coordinator_monitor(t *testing.T) {
	ctx := testContext(t)
	reg := prometheus.NewRegistry()
	store := journal.NewMemoryStore()
	c, _ := newTestCoordinator(t, nil,
		WithJournal(store),
		WithMetrics(metrics.New(reg)),
		WithMonitorTick(10*time.Millisecond),
		WithStallThreshold(20*time.Millisecond),
	)

	tx, err := c.Open(ctx, "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return gather(t, reg, "txbridge_stalled_transactions", nil) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 监控只告警，不结束事务
	assert.Equal(t, 1, c.InFlight())
	_, _, err = tx.Insert(ctx, []byte("a"), []byte("1"))
	assert.Equal(t, nil, err)

	_, err = tx.Commit(ctx)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return gather(t, reg, "txbridge_stalled_transactions", nil) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func Test_Coordinator_reportStalled(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, WithStallThreshold(time.Minute))
	now := time.Now()

	txs := []*journal.TXRecord{
		{TXID: "1", Status: journal.TXHanging, CreatedAt: now.Add(-2 * time.Minute)},
		{TXID: "2", Status: journal.TXHanging, CreatedAt: now},
		{TXID: "3", Status: journal.TXCommitted, CreatedAt: now.Add(-2 * time.Minute)},
	}
	assert.Equal(t, 1, c.reportStalled(txs))
}

func Test_Coordinator_backOffTick(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, WithMonitorTick(time.Second))
	tests := []struct {
		name string
		tick time.Duration
		want time.Duration
	}{
		{name: "double", tick: time.Second, want: 2 * time.Second},
		{name: "double again", tick: 2 * time.Second, want: 4 * time.Second},
		{name: "cap", tick: 8 * time.Second, want: 8 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.backOffTick(tt.tick))
		})
	}
}

func Test_Coordinator_PoolSpawner(t *testing.T) {
	ctx := testContext(t)
	pool := NewPoolSpawner(2)
	c, db := newTestCoordinator(t, nil, WithSpawner(pool))

	tx1, err := c.Open(ctx, "")
	require.NoError(t, err)
	tx2, err := c.Open(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Running())

	// 池满时 Open 阻塞，直到有事务结束
	opened := make(chan *Transaction, 1)
	go func() {
		tx3, err := c.Open(ctx, "")
		assert.Equal(t, nil, err)
		opened <- tx3
	}()
	select {
	case <-opened:
		t.Fatal("open should block while the pool is full")
	case <-time.After(30 * time.Millisecond):
	}

	_, _, err = tx1.Insert(ctx, []byte("a"), []byte("1"))
	require.NoError(t, err)
	_, err = tx1.Commit(ctx)
	require.NoError(t, err)

	tx3 := <-opened
	_, _, err = tx3.Insert(ctx, []byte("b"), []byte("2"))
	require.NoError(t, err)
	_, err = tx3.Commit(ctx)
	require.NoError(t, err)
	tx2.Drop()

	pool.Wait()
	assert.Equal(t, 0, pool.Running())
	value, _, _ := db.DefaultTree().Get([]byte("b"))
	assert.Equal(t, []byte("2"), value)
}

func Test_Coordinator_Open_pool_saturated(t *testing.T) {
	ctx := testContext(t)
	reg := prometheus.NewRegistry()
	store := journal.NewMemoryStore()
	c, _ := newTestCoordinator(t, nil,
		WithSpawner(NewPoolSpawner(1)),
		WithJournal(store),
		WithMetrics(metrics.New(reg)),
	)

	tx1, err := c.Open(ctx, "")
	require.NoError(t, err)

	octx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.Open(octx, "")
	assert.Equal(t, true, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)

	// 没有启动的 worker 不留下任何痕迹
	assert.Equal(t, 1, c.InFlight())
	assert.Equal(t, float64(1), gather(t, reg, "txbridge_transactions_in_flight", nil))
	assert.Equal(t, float64(1), gather(t, reg, "txbridge_transactions_opened_total", nil))
	hanging, err := store.GetHangingTXs(ctx)
	assert.Equal(t, nil, err)
	require.Len(t, hanging, 1)
	assert.Equal(t, tx1.ID(), hanging[0].TXID)

	tx1.Drop()
	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	assert.Equal(t, nil, c.Shutdown(sctx))
}

func Test_PoolSpawner_ctx(t *testing.T) {
	pool := NewPoolSpawner(1)
	release := make(chan struct{})
	require.NoError(t, pool.Spawn(context.Background(), func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var ran bool
	err := pool.Spawn(ctx, func() { ran = true })
	assert.Equal(t, context.DeadlineExceeded, err)

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	close(release)
	pool.Wait()
	assert.Equal(t, context.Canceled, pool.Spawn(cancelled, func() { ran = true }))
	assert.Equal(t, false, ran)
	assert.Equal(t, 0, pool.Running())
}

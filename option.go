package txbridge

import (
	"time"

	"github.com/xiaoxuxiansheng/txbridge/journal"
	"github.com/xiaoxuxiansheng/txbridge/metrics"
)

type Options struct {
	// 启动 worker 的执行器
	Spawner Spawner
	// 事务日志
	Journal journal.Store
	// 指标，为空时不采集
	Metrics *metrics.Metrics
	// 轮询监控任务间隔时长
	MonitorTick time.Duration
	// 事务处于执行中超过该时长会被监控任务告警，不会被取消
	StallThreshold time.Duration
	// 调用方收件箱容量，至少为 2，保证 Completion 一定能投递
	MailboxSize int
}

type Option func(*Options)

func WithSpawner(spawner Spawner) Option {
	return func(o *Options) {
		o.Spawner = spawner
	}
}

func WithJournal(store journal.Store) Option {
	return func(o *Options) {
		o.Journal = store
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

func WithMonitorTick(tick time.Duration) Option {
	if tick <= 0 {
		tick = 10 * time.Second
	}

	return func(o *Options) {
		o.MonitorTick = tick
	}
}

func WithStallThreshold(threshold time.Duration) Option {
	if threshold <= 0 {
		threshold = time.Minute
	}

	return func(o *Options) {
		o.StallThreshold = threshold
	}
}

func WithMailboxSize(size int) Option {
	return func(o *Options) {
		o.MailboxSize = size
	}
}

func repair(o *Options) {
	if o.Spawner == nil {
		o.Spawner = GoSpawner{}
	}

	if o.Journal == nil {
		o.Journal = journal.NewMemoryStore()
	}

	if o.MonitorTick <= 0 {
		o.MonitorTick = 10 * time.Second
	}

	if o.StallThreshold <= 0 {
		o.StallThreshold = time.Minute
	}

	if o.MailboxSize < 2 {
		o.MailboxSize = 16
	}
}

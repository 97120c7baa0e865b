package engine

import (
	"github.com/xiaoxuxiansheng/txbridge/log"
)

const (
	// DefaultConflictRetries 提交冲突时默认的重试次数
	DefaultConflictRetries = 3
)

// Mode 存储引擎的空间与吞吐取舍
type Mode string

const (
	// 默认，内存表更大，写入吞吐更高
	ModeHighThroughput Mode = "high_throughput"
	// 更小的内存表与 value log 文件，占用更少的内存与磁盘
	ModeLowSpace Mode = "low_space"
)

type Options struct {
	// 数据目录，Temporary 为 true 时忽略
	Path string
	// 纯内存模式，关闭即丢弃
	Temporary bool
	// 只读打开
	ReadOnly bool
	// Path 已存在数据时打开失败
	CreateNew bool
	// 为空时等价于 ModeHighThroughput
	Mode Mode
	// 关闭时打印 LSM 与 value log 的占用
	PrintProfileOnClose bool
	// 每次提交都 fsync
	SyncWrites bool
	// block cache 容量，单位字节，<=0 时使用 badger 默认值
	CacheCapacity int64
	// 是否开启 zstd 压缩
	UseCompression bool
	// zstd 压缩级别
	CompressionFactor int
	// 事务提交遇到写冲突时，重新执行事务闭包的最大次数，0 表示不重试
	ConflictRetries int
	// badger 内部日志输出，为空时使用默认 logger
	Logger log.Logger
}

type Option func(*Options)

func WithPath(path string) Option {
	return func(o *Options) {
		o.Path = path
	}
}

func WithTemporary() Option {
	return func(o *Options) {
		o.Temporary = true
	}
}

func WithReadOnly() Option {
	return func(o *Options) {
		o.ReadOnly = true
	}
}

func WithCreateNew() Option {
	return func(o *Options) {
		o.CreateNew = true
	}
}

func WithMode(mode Mode) Option {
	return func(o *Options) {
		o.Mode = mode
	}
}

func WithPrintProfileOnClose() Option {
	return func(o *Options) {
		o.PrintProfileOnClose = true
	}
}

func WithSyncWrites(sync bool) Option {
	return func(o *Options) {
		o.SyncWrites = sync
	}
}

func WithCacheCapacity(capacity int64) Option {
	return func(o *Options) {
		o.CacheCapacity = capacity
	}
}

func WithCompression(factor int) Option {
	return func(o *Options) {
		o.UseCompression = true
		o.CompressionFactor = factor
	}
}

func WithConflictRetries(retries int) Option {
	if retries < 0 {
		retries = 0
	}
	return func(o *Options) {
		o.ConflictRetries = retries
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// NewOptions 以默认值为基础构造 Options
func NewOptions(opts ...Option) Options {
	options := Options{
		ConflictRetries: DefaultConflictRetries,
	}
	for _, opt := range opts {
		opt(&options)
	}
	repair(&options)
	return options
}

func repair(o *Options) {
	if o.ConflictRetries < 0 {
		o.ConflictRetries = 0
	}
	if o.CompressionFactor < 0 {
		o.CompressionFactor = 0
	}
	if o.Mode != ModeLowSpace {
		o.Mode = ModeHighThroughput
	}
	if o.Logger == nil {
		o.Logger = log.GetDefaultLogger()
	}
}

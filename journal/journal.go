package journal

import (
	"context"
	"time"
)

// 事务状态
type TXStatus string

const (
	// 事务执行中
	TXHanging TXStatus = "hanging"
	// 事务已提交
	TXCommitted TXStatus = "committed"
	// 事务被放弃（用户 abort、调用方断开、内部错误）
	TXAborted TXStatus = "aborted"
	// 存储引擎报错
	TXFailed TXStatus = "failed"
)

func (t TXStatus) String() string {
	return string(t)
}

// 终态
func (t TXStatus) Terminal() bool {
	return t == TXCommitted || t == TXAborted || t == TXFailed
}

// 事务日志记录
type TXRecord struct {
	TXID string `json:"txID"`
	Tree string `json:"tree"`
	// 进入引擎事务闭包的次数，>1 说明发生过冲突重试
	Attempts  int       `json:"attempts"`
	Status    TXStatus  `json:"status"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// 是否在 createdBefore 之前创建且仍未结束
func (t *TXRecord) StalledSince(createdBefore time.Time) bool {
	return t.Status == TXHanging && t.CreatedAt.Before(createdBefore)
}

// Result 事务终态，提交给 Store
type Result struct {
	Status TXStatus
	Reason string
	Detail string
}

// 事务日志存储模块
type Store interface {
	// 创建一条事务记录，返回全局唯一的事务 id
	CreateTX(ctx context.Context, tree string) (txID string, err error)
	// 记录一次进入事务闭包
	TXAttempt(ctx context.Context, txID string, attempt int) error
	// 提交事务的最终状态，每笔事务只允许提交一次
	TXSubmit(ctx context.Context, txID string, result Result) error
	// 获取指定的一笔事务
	GetTX(ctx context.Context, txID string) (*TXRecord, error)
	// 获取到所有未完成的事务
	GetHangingTXs(ctx context.Context) ([]*TXRecord, error)
	// 锁住整个 Store 模块，多个进程共享同一个 Store 时要求为分布式锁
	Lock(ctx context.Context, expireDuration time.Duration) error
	// 解锁 Store 模块
	Unlock(ctx context.Context) error
}

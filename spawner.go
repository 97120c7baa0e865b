package txbridge

import (
	"context"
	"sync"
)

// Spawner 为每笔事务启动一个 worker。worker 会一直阻塞到事务结束，
// 所以实现方必须让 job 运行在独立的 goroutine 上。
// 返回 error 时 job 不会被执行
type Spawner interface {
	Spawn(ctx context.Context, job func()) error
}

// GoSpawner 每个 job 一个 goroutine
type GoSpawner struct{}

func (GoSpawner) Spawn(ctx context.Context, job func()) error {
	go job()
	return nil
}

// PoolSpawner 限制同时运行的 worker 数量，满载时 Spawn 阻塞直到有 worker 退出或者 ctx 结束
type PoolSpawner struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

func NewPoolSpawner(size int) *PoolSpawner {
	if size <= 0 {
		size = 1
	}
	return &PoolSpawner{
		slots: make(chan struct{}, size),
	}
}

func (p *PoolSpawner) Spawn(ctx context.Context, job func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
		}()
		job()
	}()
	return nil
}

// Running 正在运行的 worker 数量
func (p *PoolSpawner) Running() int {
	return len(p.slots)
}

// Wait 等待所有已启动的 worker 退出
func (p *PoolSpawner) Wait() {
	p.wg.Wait()
}

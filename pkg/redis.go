package pkg

import (
	"fmt"

	"github.com/xiaoxuxiansheng/redis_lock"
)

const network = "tcp"

func NewRedisClient(address, password string) *redis_lock.Client {
	return redis_lock.NewClient(network, address, password)
}

// 构造事务日志锁 key，监控任务在多个进程间互斥
func BuildJournalLockKey(namespace string) string {
	if namespace == "" {
		namespace = "default"
	}
	return fmt.Sprintf("txbridge:journal:%s:lock", namespace)
}

package dbstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/demdxx/gocast"
	"github.com/xiaoxuxiansheng/redis_lock"

	"github.com/xiaoxuxiansheng/txbridge/journal"
	"github.com/xiaoxuxiansheng/txbridge/journal/dao"
	"github.com/xiaoxuxiansheng/txbridge/pkg"
)

// Store 基于 mysql 事务日志表 + redis 分布式锁的 journal.Store 实现
type Store struct {
	repo    dao.Repository
	client  *redis_lock.Client
	lockKey string

	mux  sync.Mutex
	lock *redis_lock.RedisLock
}

func NewStore(repo dao.Repository, client *redis_lock.Client, namespace string) *Store {
	return &Store{
		repo:    repo,
		client:  client,
		lockKey: pkg.BuildJournalLockKey(namespace),
	}
}

func (s *Store) CreateTX(ctx context.Context, tree string) (string, error) {
	id, err := s.repo.CreateTXRecord(ctx, &dao.TXJournalPO{
		Tree:   tree,
		Status: journal.TXHanging.String(),
	})
	if err != nil {
		return "", err
	}
	if id == 0 {
		return "", errors.New("create tx record: empty id")
	}
	return gocast.ToString(id), nil
}

func (s *Store) TXAttempt(ctx context.Context, txID string, attempt int) error {
	return s.repo.LockAndDo(ctx, gocast.ToUint(txID), func(ctx context.Context, repo dao.Repository, record *dao.TXJournalPO) error {
		if record.Status != journal.TXHanging.String() {
			return fmt.Errorf("invalid txstatus: %s, txid: %s", record.Status, txID)
		}
		if attempt <= record.Attempts {
			return nil
		}
		record.Attempts = attempt
		return repo.UpdateTXRecord(ctx, record)
	})
}

func (s *Store) TXSubmit(ctx context.Context, txID string, result journal.Result) error {
	if !result.Status.Terminal() {
		return fmt.Errorf("[TXSubmit]non-terminal status: %s, txid: %s", result.Status, txID)
	}
	return s.repo.LockAndDo(ctx, gocast.ToUint(txID), func(ctx context.Context, repo dao.Repository, record *dao.TXJournalPO) error {
		if record.Status != journal.TXHanging.String() {
			return fmt.Errorf("invalid txstatus: %s, txid: %s", record.Status, txID)
		}
		record.Status = result.Status.String()
		record.Reason = result.Reason
		record.Detail = result.Detail
		return repo.UpdateTXRecord(ctx, record)
	})
}

func (s *Store) GetTX(ctx context.Context, txID string) (*journal.TXRecord, error) {
	records, err := s.repo.GetTXRecords(ctx, dao.WithID(gocast.ToUint(txID)))
	if err != nil {
		return nil, err
	}
	if len(records) != 1 {
		return nil, fmt.Errorf("[GetTX]invalid txid: %s", txID)
	}
	return toRecord(records[0]), nil
}

func (s *Store) GetHangingTXs(ctx context.Context) ([]*journal.TXRecord, error) {
	records, err := s.repo.GetTXRecords(ctx, dao.WithStatus(journal.TXHanging.String()), dao.WithOrderByID())
	if err != nil {
		return nil, err
	}

	txs := make([]*journal.TXRecord, 0, len(records))
	for _, record := range records {
		txs = append(txs, toRecord(record))
	}
	return txs, nil
}

func (s *Store) Lock(ctx context.Context, expireDuration time.Duration) error {
	seconds := int64(expireDuration.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	lock := redis_lock.NewRedisLock(s.lockKey, s.client, redis_lock.WithExpireSeconds(seconds))
	if err := lock.Lock(ctx); err != nil {
		return err
	}

	s.mux.Lock()
	s.lock = lock
	s.mux.Unlock()
	return nil
}

func (s *Store) Unlock(ctx context.Context) error {
	s.mux.Lock()
	lock := s.lock
	s.lock = nil
	s.mux.Unlock()

	if lock == nil {
		return errors.New("journal not locked")
	}
	return lock.Unlock(ctx)
}

func toRecord(po *dao.TXJournalPO) *journal.TXRecord {
	return &journal.TXRecord{
		TXID:      gocast.ToString(po.ID),
		Tree:      po.Tree,
		Attempts:  po.Attempts,
		Status:    journal.TXStatus(po.Status),
		Reason:    po.Reason,
		Detail:    po.Detail,
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
}

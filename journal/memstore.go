package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrLocked = errors.New("journal locked")

// MemoryStore 进程内的事务日志实现
type MemoryStore struct {
	mutex  sync.Mutex
	txs    map[string]*TXRecord
	locked bool
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs: make(map[string]*TXRecord),
		now: time.Now,
	}
}

func (m *MemoryStore) CreateTX(ctx context.Context, tree string) (string, error) {
	txID := uuid.NewString()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.txs[txID]; ok {
		return "", fmt.Errorf("repeat txid: %s", txID)
	}

	now := m.now()
	m.txs[txID] = &TXRecord{
		TXID:      txID,
		Tree:      tree,
		Status:    TXHanging,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return txID, nil
}

func (m *MemoryStore) TXAttempt(ctx context.Context, txID string, attempt int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	tx, ok := m.txs[txID]
	if !ok {
		return fmt.Errorf("[TXAttempt]invalid txid: %s", txID)
	}
	if tx.Status != TXHanging {
		return fmt.Errorf("invalid txstatus: %s, txid: %s", tx.Status, txID)
	}
	if attempt > tx.Attempts {
		tx.Attempts = attempt
	}
	tx.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) TXSubmit(ctx context.Context, txID string, result Result) error {
	if !result.Status.Terminal() {
		return fmt.Errorf("[TXSubmit]non-terminal status: %s, txid: %s", result.Status, txID)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	tx, ok := m.txs[txID]
	if !ok {
		return fmt.Errorf("[TXSubmit]invalid txid: %s", txID)
	}
	if tx.Status != TXHanging {
		return fmt.Errorf("invalid txstatus: %s, txid: %s", tx.Status, txID)
	}
	tx.Status = result.Status
	tx.Reason = result.Reason
	tx.Detail = result.Detail
	tx.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) GetTX(ctx context.Context, txID string) (*TXRecord, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	tx, ok := m.txs[txID]
	if !ok {
		return nil, fmt.Errorf("[GetTX]invalid txid: %s", txID)
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) GetHangingTXs(ctx context.Context) ([]*TXRecord, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var hangingTXs []*TXRecord
	for _, tx := range m.txs {
		if tx.Status != TXHanging {
			continue
		}
		cp := *tx
		hangingTXs = append(hangingTXs, &cp)
	}
	sort.Slice(hangingTXs, func(i, j int) bool {
		return hangingTXs[i].CreatedAt.Before(hangingTXs[j].CreatedAt)
	})
	return hangingTXs, nil
}

// 进程内互斥即可，expireDuration 不生效
func (m *MemoryStore) Lock(ctx context.Context, expireDuration time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.locked {
		return ErrLocked
	}
	m.locked = true
	return nil
}

func (m *MemoryStore) Unlock(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.locked = false
	return nil
}

package txbridge

import (
	"fmt"
	"sync"
)

// registry 记录所有 worker 尚未结束的事务
type registry struct {
	mux sync.RWMutex
	txs map[string]*session
}

func newRegistry() *registry {
	return &registry{
		txs: make(map[string]*session),
	}
}

func (r *registry) register(s *session) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if _, ok := r.txs[s.txID]; ok {
		return fmt.Errorf("repeat tx id: %s", s.txID)
	}
	r.txs[s.txID] = s
	return nil
}

func (r *registry) unregister(txID string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	delete(r.txs, txID)
}

func (r *registry) get(txID string) (*session, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	s, ok := r.txs[txID]
	return s, ok
}

func (r *registry) len() int {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return len(r.txs)
}

// sessions 当前全部执行中事务的快照
func (r *registry) sessions() []*session {
	r.mux.RLock()
	defer r.mux.RUnlock()
	sessions := make([]*session, 0, len(r.txs))
	for _, s := range r.txs {
		sessions = append(sessions, s)
	}
	return sessions
}

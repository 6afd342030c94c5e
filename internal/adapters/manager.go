package adapters

import (
	"context"
	"sort"
	"sync"

	"github.com/kpjmd/mammon/internal/errs"
)

// Manager is a registry of live adapters keyed by protocol ID, grounded
// on the teacher's DeFiProtocolManager (internal/web3/defi_protocols.go):
// same map-based registration shape, generalized to hold this package's
// Adapter contract instead of the teacher's action-dispatch interface.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewManager() *Manager {
	return &Manager{adapters: make(map[string]Adapter)}
}

func (m *Manager) Register(a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.ProtocolID()] = a
}

func (m *Manager) Get(protocolID string) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[protocolID]
	return a, ok
}

// List returns every registered protocol ID in stable sorted order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.adapters))
	for id := range m.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AllPools fans out GetPools across every registered adapter and
// concatenates the results. A single adapter's failure does not abort
// the others; scanning is best-effort per protocol.
func (m *Manager) AllPools(ctx context.Context) ([]Pool, error) {
	m.mu.RLock()
	snapshot := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		snapshot = append(snapshot, a)
	}
	m.mu.RUnlock()

	var all []Pool
	for _, a := range snapshot {
		pools, err := a.GetPools(ctx)
		if err != nil {
			continue
		}
		all = append(all, pools...)
	}
	if len(all) == 0 && len(snapshot) == 0 {
		return nil, errs.New(errs.KindConfig, "no adapters registered")
	}
	return all, nil
}

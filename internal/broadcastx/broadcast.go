// Package broadcastx is an in-process broadcast manager: a distribution
// primitive that ships a blob once and hands back a cheap handle. A
// cluster-scale implementation would fan a blob out across many machines
// via block transfer; here, a single process has no cluster to fan out
// across, so NewBroadcast just stores the bytes keyed by a fresh uuid and
// Resolve looks them back up. The shape of the interface — and the fact
// that destruction is pinned-until-invalidated and best-effort — is what
// the tracker actually depends on.
package broadcastx

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/corral-shuffle/tracker/mapoutput"
)

// LocalBroadcastManager implements both mapoutput.BroadcastManager (server
// side: mint a broadcast) and mapoutput.BroadcastResolver (client side:
// resolve one back to bytes).
type LocalBroadcastManager struct {
	mu      sync.RWMutex
	handles map[string][]byte
}

// NewLocalBroadcastManager returns an empty manager.
func NewLocalBroadcastManager() *LocalBroadcastManager {
	return &LocalBroadcastManager{handles: make(map[string][]byte)}
}

// NewBroadcast stores data under a fresh id and returns a handle to it.
func (m *LocalBroadcastManager) NewBroadcast(data []byte, isLocal bool) (mapoutput.BroadcastHandle, error) {
	id := uuid.New().String()
	m.mu.Lock()
	m.handles[id] = data
	m.mu.Unlock()
	return &localHandle{id: id, mgr: m}, nil
}

// Resolve looks up a previously minted broadcast by id.
func (m *LocalBroadcastManager) Resolve(id string) (mapoutput.BroadcastHandle, error) {
	m.mu.RLock()
	_, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("broadcastx: unknown broadcast id %q", id)
	}
	return &localHandle{id: id, mgr: m}, nil
}

// Count reports how many broadcasts are currently pinned. Exposed for
// tests that assert a broadcast was actually destroyed.
func (m *LocalBroadcastManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

type localHandle struct {
	id  string
	mgr *LocalBroadcastManager
}

func (h *localHandle) ID() string { return h.id }

func (h *localHandle) Value() ([]byte, error) {
	h.mgr.mu.RLock()
	defer h.mgr.mu.RUnlock()
	data, ok := h.mgr.handles[h.id]
	if !ok {
		return nil, fmt.Errorf("broadcastx: broadcast %q already destroyed", h.id)
	}
	return data, nil
}

// Destroy drops the blob. blocking is accepted for interface compatibility
// but there is nothing to wait on in-process; it always succeeds.
func (h *localHandle) Destroy(blocking bool) error {
	h.mgr.mu.Lock()
	delete(h.mgr.handles, h.id)
	h.mgr.mu.Unlock()
	return nil
}

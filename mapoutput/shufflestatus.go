package mapoutput

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// ShuffleStatus is the per-stage output catalog: one slot per map partition,
// plus whatever serialized/broadcast form of it has been computed so far.
// Every exported method here takes the instance's own mutex: concurrency
// control is total and per-instance, never per-slot.
type ShuffleStatus struct {
	mu sync.Mutex

	shuffleID    int32
	mapStatuses  []*MapStatus
	numAvailable int

	cachedSerialized []byte
	cachedBroadcast  BroadcastHandle

	log *logrus.Logger
}

// NewShuffleStatus allocates a catalog for a stage with numMaps map tasks,
// all slots initially empty.
func NewShuffleStatus(shuffleID int32, numMaps int, log *logrus.Logger) *ShuffleStatus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ShuffleStatus{
		shuffleID:   shuffleID,
		mapStatuses: make([]*MapStatus, numMaps),
		log:         log,
	}
}

// AddMapOutput registers (or re-registers) the output of mapID. The latest
// registration always wins.
func (s *ShuffleStatus) AddMapOutput(mapID int, status *MapStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mapID < 0 || mapID >= len(s.mapStatuses) {
		return
	}
	if s.mapStatuses[mapID] == nil {
		s.numAvailable++
	}
	s.mapStatuses[mapID] = status
	s.invalidateLocked()
}

// RemoveMapOutput clears mapID's slot, but only if its current occupant is
// still at bmAddress — a stale "remove on host X" must not clobber a
// re-registration that has since landed at a different host.
func (s *ShuffleStatus) RemoveMapOutput(mapID int, bmAddress BlockManagerId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mapID < 0 || mapID >= len(s.mapStatuses) {
		return false
	}
	cur := s.mapStatuses[mapID]
	if cur == nil || !cur.Location.Equal(bmAddress) {
		return false
	}
	s.mapStatuses[mapID] = nil
	s.numAvailable--
	s.invalidateLocked()
	return true
}

// RemoveOutputsByFilter clears every slot whose BlockManagerId satisfies
// match. Returns whether any slot was cleared.
func (s *ShuffleStatus) RemoveOutputsByFilter(match func(BlockManagerId) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for i, st := range s.mapStatuses {
		if st != nil && match(st.Location) {
			s.mapStatuses[i] = nil
			s.numAvailable--
			changed = true
		}
	}
	if changed {
		s.invalidateLocked()
	}
	return changed
}

// RemoveOutputsOnHost clears every slot whose output lives on host.
func (s *ShuffleStatus) RemoveOutputsOnHost(host string) bool {
	return s.RemoveOutputsByFilter(func(b BlockManagerId) bool { return b.Host == host })
}

// RemoveOutputsOnExecutor clears every slot whose output lives on execID.
func (s *ShuffleStatus) RemoveOutputsOnExecutor(execID string) bool {
	return s.RemoveOutputsByFilter(func(b BlockManagerId) bool { return b.ExecutorID == execID })
}

// NumAvailableOutputs returns the count of non-empty slots.
func (s *ShuffleStatus) NumAvailableOutputs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numAvailable
}

// FindMissingPartitions returns the map-partition ids whose slot is empty.
func (s *ShuffleStatus) FindMissingPartitions() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	missing := make([]int32, 0, len(s.mapStatuses)-s.numAvailable)
	for i, st := range s.mapStatuses {
		if st == nil {
			missing = append(missing, int32(i))
		}
	}
	if len(missing) != len(s.mapStatuses)-s.numAvailable {
		panic("mapoutput: findMissingPartitions count invariant violated")
	}
	return missing
}

// WithMapStatuses runs fn against the internal array while holding the
// instance's exclusion. fn must not mutate the slice or its elements.
func (s *ShuffleStatus) WithMapStatuses(fn func([]*MapStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.mapStatuses)
}

// SerializedMapStatus returns the catalog's wire-encoded form, computing and
// caching it on first demand. Because the whole call holds the instance's
// mutex, at most one caller ever performs the encode while the cache is
// cold; concurrent callers simply block until it's filled in.
func (s *ShuffleStatus) SerializedMapStatus(bcMgr BroadcastManager, localMode bool, minBroadcastSize int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachedSerialized != nil {
		return s.cachedSerialized, nil
	}

	data, handle, err := SerializeMapStatuses(s.mapStatuses, bcMgr, localMode, minBroadcastSize)
	if err != nil {
		return nil, err
	}
	s.cachedSerialized = data
	s.cachedBroadcast = handle
	return data, nil
}

// InvalidateSerializedMapOutputStatusCache drops the cached serialized form
// and destroys any pinned broadcast. Broadcast destruction errors are
// logged and swallowed: a destroy RPC to a dead worker must never cascade
// into the mutating call that triggered invalidation.
func (s *ShuffleStatus) InvalidateSerializedMapOutputStatusCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked()
}

func (s *ShuffleStatus) invalidateLocked() {
	s.cachedSerialized = nil
	if s.cachedBroadcast != nil {
		handle := s.cachedBroadcast
		s.cachedBroadcast = nil
		if err := handle.Destroy(false); err != nil {
			s.log.WithError(err).WithField("shuffleId", s.shuffleID).
				Warn("mapoutput: failed to destroy broadcast on cache invalidation")
		}
	}
}

// ShuffleID returns the stage id this catalog belongs to.
func (s *ShuffleStatus) ShuffleID() int32 {
	return s.shuffleID
}

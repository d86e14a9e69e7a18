// Package authority implements the driver-resident MapOutputTracker
// authority: it owns every stage's ShuffleStatus, answers bulk metadata
// queries through a dispatcher pool, and mutates catalogs (bumping the
// shared epoch) when topology changes are reported to it.
package authority

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/corral-shuffle/tracker/mapoutput"
)

// Config bundles the authority's tunables.
type Config struct {
	MinSizeForBroadcast  int
	MaxRPCMessageSize    int
	LocalMode            bool
	ParallelAggThreshold int64
	DispatcherThreads    int
	// LocationCacheSize bounds the LRU used to memoize
	// GetPreferredLocationsForShuffle. Zero selects a sane default.
	LocationCacheSize int
}

// Validate rejects configurations that can never serve a request.
func (c Config) Validate() error {
	if c.MinSizeForBroadcast > c.MaxRPCMessageSize {
		return &mapoutput.ErrInvalidConfiguration{
			Reason: "minSizeForBroadcast must not exceed maxRpcMessageSize",
		}
	}
	return nil
}

// TrackerAuthority is the driver-resident authority owning every stage's
// output catalog.
type TrackerAuthority struct {
	dirMu     sync.RWMutex
	directory map[int32]*mapoutput.ShuffleStatus

	epoch epoch

	queue  *requestQueue
	loopWG sync.WaitGroup

	broadcastMgr         mapoutput.BroadcastManager
	localMode            bool
	minSizeForBroadcast  int
	maxRPCMessageSize    int
	parallelAggThreshold int64
	dispatcherThreads    int

	locCache *lru.Cache

	log *logrus.Logger
}

// New constructs a TrackerAuthority. It does not start the dispatcher pool;
// call Start for that once the caller is ready to serve requests.
func New(cfg Config, bcMgr mapoutput.BroadcastManager, log *logrus.Logger) (*TrackerAuthority, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	cacheSize := cfg.LocationCacheSize
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	locCache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}

	return &TrackerAuthority{
		directory:            make(map[int32]*mapoutput.ShuffleStatus),
		queue:                newRequestQueue(),
		broadcastMgr:         bcMgr,
		localMode:            cfg.LocalMode,
		minSizeForBroadcast:  cfg.MinSizeForBroadcast,
		maxRPCMessageSize:    cfg.MaxRPCMessageSize,
		parallelAggThreshold: cfg.ParallelAggThreshold,
		dispatcherThreads:    cfg.DispatcherThreads,
		locCache:             locCache,
		log:                  log,
	}, nil
}

func (a *TrackerAuthority) lookup(shuffleID int32) (*mapoutput.ShuffleStatus, bool) {
	a.dirMu.RLock()
	defer a.dirMu.RUnlock()
	if a.directory == nil {
		return nil, false
	}
	s, ok := a.directory[shuffleID]
	return s, ok
}

// RegisterShuffle creates a fresh catalog for shuffleID. Fails with
// ErrAlreadyRegistered if one already exists.
func (a *TrackerAuthority) RegisterShuffle(shuffleID int32, numMaps int) error {
	a.dirMu.Lock()
	defer a.dirMu.Unlock()
	if _, exists := a.directory[shuffleID]; exists {
		return &mapoutput.ErrAlreadyRegistered{ShuffleID: shuffleID}
	}
	a.directory[shuffleID] = mapoutput.NewShuffleStatus(shuffleID, numMaps, a.log)
	return nil
}

// RegisterMapOutput delegates to the catalog. No epoch bump: ordinary
// registration is not a topology event.
func (a *TrackerAuthority) RegisterMapOutput(shuffleID int32, mapID int, status *mapoutput.MapStatus) error {
	s, ok := a.lookup(shuffleID)
	if !ok {
		return &mapoutput.ErrUnknownShuffle{ShuffleID: shuffleID}
	}
	s.AddMapOutput(mapID, status)
	a.purgeLocationCache(shuffleID)
	return nil
}

// UnregisterMapOutput conditionally removes mapID's output, then bumps the
// epoch unconditionally: the caller is reporting a topology event
// regardless of whether this particular slot matched.
func (a *TrackerAuthority) UnregisterMapOutput(shuffleID int32, mapID int, bmAddress mapoutput.BlockManagerId) error {
	s, ok := a.lookup(shuffleID)
	if !ok {
		return &mapoutput.ErrUnknownShuffle{ShuffleID: shuffleID}
	}
	s.RemoveMapOutput(mapID, bmAddress)
	a.purgeLocationCache(shuffleID)
	a.epoch.increment()
	return nil
}

// UnregisterShuffle drops shuffleID's catalog entirely. The directory entry
// is removed first; the removed catalog's cache is then invalidated outside
// the directory lock, so any pinned broadcast is still released.
func (a *TrackerAuthority) UnregisterShuffle(shuffleID int32) {
	a.dirMu.Lock()
	s, ok := a.directory[shuffleID]
	if ok {
		delete(a.directory, shuffleID)
	}
	a.dirMu.Unlock()
	if ok {
		s.InvalidateSerializedMapOutputStatusCache()
	}
	a.purgeLocationCache(shuffleID)
}

// RemoveOutputsOnHost applies the filter across every registered catalog,
// then bumps the epoch exactly once regardless of how many catalogs
// actually had a matching slot.
func (a *TrackerAuthority) RemoveOutputsOnHost(host string) {
	a.sweep(func(s *mapoutput.ShuffleStatus) bool { return s.RemoveOutputsOnHost(host) })
}

// RemoveOutputsOnExecutor is RemoveOutputsOnHost's executor-id counterpart.
func (a *TrackerAuthority) RemoveOutputsOnExecutor(execID string) {
	a.sweep(func(s *mapoutput.ShuffleStatus) bool { return s.RemoveOutputsOnExecutor(execID) })
}

func (a *TrackerAuthority) sweep(remove func(*mapoutput.ShuffleStatus) bool) {
	a.dirMu.RLock()
	catalogs := make([]*mapoutput.ShuffleStatus, 0, len(a.directory))
	ids := make([]int32, 0, len(a.directory))
	for id, s := range a.directory {
		catalogs = append(catalogs, s)
		ids = append(ids, id)
	}
	a.dirMu.RUnlock()

	for i, s := range catalogs {
		if remove(s) {
			a.purgeLocationCache(ids[i])
		}
	}
	a.epoch.increment()
}

// ContainsShuffle reports whether shuffleID has a registered catalog.
func (a *TrackerAuthority) ContainsShuffle(shuffleID int32) bool {
	_, ok := a.lookup(shuffleID)
	return ok
}

// GetNumAvailableOutputs returns the number of non-empty slots for
// shuffleID, or (0, false) if it is not registered.
func (a *TrackerAuthority) GetNumAvailableOutputs(shuffleID int32) (int, bool) {
	s, ok := a.lookup(shuffleID)
	if !ok {
		return 0, false
	}
	return s.NumAvailableOutputs(), true
}

// FindMissingPartitions returns shuffleID's missing map-partition ids, or
// nil if shuffleID is not registered.
func (a *TrackerAuthority) FindMissingPartitions(shuffleID int32) []int32 {
	s, ok := a.lookup(shuffleID)
	if !ok {
		return nil
	}
	return s.FindMissingPartitions()
}

// GetEpoch returns the current epoch value.
func (a *TrackerAuthority) GetEpoch() uint64 { return a.epoch.get() }

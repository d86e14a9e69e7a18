// Package trackerclient implements the worker-resident cache of fetched
// catalogs: it deduplicates concurrent first-fetch requests for the same
// stage and reconciles its view with the authority via a monotonic epoch.
package trackerclient

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/corral-shuffle/tracker/internal/rpcx"
	"github.com/corral-shuffle/tracker/mapoutput"
)

// Transport is the RPC collaborator a Client asks for a catalog it doesn't
// have cached. rpcx.LocalTransport satisfies this, but the client package
// never imports the authority it talks to.
type Transport interface {
	Ask(ctx context.Context, endpoint string, shuffleID int32) ([]byte, error)
}

// ExecutorBlocks groups the blocks a single reduce task must fetch from one
// BlockManagerId, the shape GetMapSizesByExecutorId returns.
type ExecutorBlocks struct {
	Location mapoutput.BlockManagerId
	Blocks   []BlockSize
}

// BlockSize pairs one fetchable block with its size estimate.
type BlockSize struct {
	ID   mapoutput.BlockId
	Size int64
}

// Client is the per-worker cache of fetched catalogs. mapStatuses entries
// are immutable once placed: callers never see a half-updated catalog.
// fetching and its monitor coalesce concurrent first-fetches for the same
// shuffleId into a single RPC.
type Client struct {
	mu          sync.RWMutex
	mapStatuses map[int32][]*mapoutput.MapStatus

	fetchMu   sync.Mutex
	fetchCond *sync.Cond
	fetching  map[int32]bool

	epochMu sync.Mutex
	epoch   uint64

	transport Transport
	resolver  mapoutput.BroadcastResolver
	log       *logrus.Logger
}

// New constructs a Client against transport, using resolver to pull the
// inner payload of any BROADCAST-framed catalog reply. resolver may be nil
// if the deployment never promotes catalogs to broadcast.
func New(transport Transport, resolver mapoutput.BroadcastResolver, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Client{
		mapStatuses: make(map[int32][]*mapoutput.MapStatus),
		fetching:    make(map[int32]bool),
		transport:   transport,
		resolver:    resolver,
		log:         log,
	}
	c.fetchCond = sync.NewCond(&c.fetchMu)
	return c
}

// GetMapSizesByExecutorId returns, for the half-open reduce-partition range
// [startPartition, endPartition), every block a reduce task covering that
// range must fetch, grouped by the BlockManagerId it lives on. A
// MetadataFetchFailedError poisons the entire local cache before it
// propagates: a stale cache is presumed bad for every shuffle, not just the
// one that failed.
func (c *Client) GetMapSizesByExecutorId(ctx context.Context, shuffleID int32, startPartition, endPartition int) ([]ExecutorBlocks, error) {
	statuses, err := c.getStatuses(ctx, shuffleID)
	if err != nil {
		return nil, err
	}

	result, err := convertMapStatuses(shuffleID, startPartition, endPartition, statuses)
	if err != nil {
		if _, ok := err.(*mapoutput.MetadataFetchFailedError); ok {
			c.mu.Lock()
			c.mapStatuses = make(map[int32][]*mapoutput.MapStatus)
			c.mu.Unlock()
		}
		return nil, err
	}
	return result, nil
}

// getStatuses returns the cached catalog for shuffleID, fetching it from
// the authority on a cold cache. Concurrent callers for the same cold
// shuffleId all wait on one elected fetcher instead of each issuing their
// own RPC.
func (c *Client) getStatuses(ctx context.Context, shuffleID int32) ([]*mapoutput.MapStatus, error) {
	if statuses, ok := c.cached(shuffleID); ok {
		return statuses, nil
	}

	c.fetchMu.Lock()
	for c.fetching[shuffleID] {
		c.fetchCond.Wait()
	}
	if statuses, ok := c.cached(shuffleID); ok {
		c.fetchMu.Unlock()
		return statuses, nil
	}
	c.fetching[shuffleID] = true
	c.fetchMu.Unlock()

	statuses, err := c.fetch(ctx, shuffleID)

	c.fetchMu.Lock()
	delete(c.fetching, shuffleID)
	c.fetchCond.Broadcast()
	c.fetchMu.Unlock()

	if err != nil {
		return nil, err
	}
	if statuses == nil {
		return nil, &mapoutput.MetadataFetchFailedError{ShuffleID: shuffleID, PartitionID: -1}
	}
	return statuses, nil
}

func (c *Client) cached(shuffleID int32) ([]*mapoutput.MapStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	statuses, ok := c.mapStatuses[shuffleID]
	return statuses, ok
}

func (c *Client) fetch(ctx context.Context, shuffleID int32) ([]*mapoutput.MapStatus, error) {
	c.log.WithField("shuffleId", shuffleID).Debug("trackerclient: fetching map output statuses")
	data, err := c.transport.Ask(ctx, rpcx.EndpointName, shuffleID)
	if err != nil {
		return nil, err
	}
	statuses, err := mapoutput.DeserializeMapStatuses(data, c.resolver)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.mapStatuses[shuffleID] = statuses
	c.mu.Unlock()
	return statuses, nil
}

// UpdateEpoch is the client's only planned invalidation path: once a newer
// epoch is observed, the whole cache is dropped, not just the shuffle that
// triggered the bump, because the sweep behind a topology event touches an
// unknown set of catalogs.
func (c *Client) UpdateEpoch(newEpoch uint64) {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	if newEpoch <= c.epoch {
		return
	}
	c.log.WithFields(logrus.Fields{"oldEpoch": c.epoch, "newEpoch": newEpoch}).
		Info("trackerclient: updating epoch, invalidating cache")
	c.epoch = newEpoch
	c.mu.Lock()
	c.mapStatuses = make(map[int32][]*mapoutput.MapStatus)
	c.mu.Unlock()
}

// GetEpoch returns the last epoch value this client has observed.
func (c *Client) GetEpoch() uint64 {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	return c.epoch
}

// UnregisterShuffle drops shuffleID's cache entry, if any.
func (c *Client) UnregisterShuffle(shuffleID int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.mapStatuses, shuffleID)
}

// convertMapStatuses walks every map's status and buckets the sizes for
// [startPartition, endPartition) by the BlockManagerId that holds them,
// preserving the order in which each location was first seen. A nil slot —
// a map task whose output was never registered — fails the whole
// conversion rather than silently under-reporting one reducer's input.
func convertMapStatuses(shuffleID int32, startPartition, endPartition int, statuses []*mapoutput.MapStatus) ([]ExecutorBlocks, error) {
	order := make(map[mapoutput.BlockManagerId]int)
	var result []ExecutorBlocks

	for mapID, st := range statuses {
		if st == nil {
			return nil, &mapoutput.MetadataFetchFailedError{ShuffleID: shuffleID, PartitionID: startPartition}
		}
		for p := startPartition; p < endPartition; p++ {
			size := st.SizeForBlock(p)
			if size <= 0 {
				continue
			}
			idx, ok := order[st.Location]
			if !ok {
				idx = len(result)
				order[st.Location] = idx
				result = append(result, ExecutorBlocks{Location: st.Location})
			}
			result[idx].Blocks = append(result[idx].Blocks, BlockSize{
				ID:   mapoutput.BlockId{ShuffleID: shuffleID, MapID: mapID, ReduceID: p},
				Size: size,
			})
		}
	}
	return result, nil
}

package authority

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/corral-shuffle/tracker/internal/pkg/rangesplit"
	"github.com/corral-shuffle/tracker/mapoutput"
)

// MapOutputStatistics reports, per reducer partition, the total bytes that
// partition will read across every map output.
type MapOutputStatistics struct {
	ShuffleID        int32
	BytesByPartition []int64
}

// GetStatistics sums every map output's per-partition sizes into a single
// bytes-by-reducer-partition array. Small stages aggregate on the calling
// goroutine; stages crossing parallelAggThreshold split the reducer range
// into contiguous sub-ranges aggregated concurrently, with the catalog's
// exclusion held for as long as any sub-range aggregator is still running.
func (a *TrackerAuthority) GetStatistics(shuffleID int32, numReducers int) (*MapOutputStatistics, error) {
	s, ok := a.lookup(shuffleID)
	if !ok {
		return nil, &mapoutput.ErrUnknownShuffle{ShuffleID: shuffleID}
	}

	var numMaps int
	s.WithMapStatuses(func(statuses []*mapoutput.MapStatus) { numMaps = len(statuses) })

	totals := make([]int64, numReducers)
	workload := int64(numMaps) * int64(numReducers)

	if workload <= a.parallelAggThreshold || numReducers <= 1 {
		s.WithMapStatuses(func(statuses []*mapoutput.MapStatus) {
			aggregateRange(statuses, totals, 0, numReducers)
		})
		return &MapOutputStatistics{ShuffleID: shuffleID, BytesByPartition: totals}, nil
	}

	parallelism := runtime.GOMAXPROCS(0)
	chunks := rangesplit.Min(parallelism, int(workload/a.parallelAggThreshold)+1)
	chunks = rangesplit.Min(chunks, numReducers)
	ranges := rangesplit.Split(numReducers, chunks)

	sem := semaphore.NewWeighted(maxConcurrentAggregators)
	var firstErr error

	s.WithMapStatuses(func(statuses []*mapoutput.MapStatus) {
		var wg sync.WaitGroup
		var errMu sync.Mutex
		for _, r := range ranges {
			lo, hi := r[0], r[1]

			if err := sem.Acquire(context.Background(), 1); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				aggregateRange(statuses, totals, lo, hi)
			}()
		}
		// Held until every spawned aggregator finishes, so statuses
		// can't mutate mid-aggregation.
		wg.Wait()
	})

	if firstErr != nil {
		return nil, firstErr
	}
	return &MapOutputStatistics{ShuffleID: shuffleID, BytesByPartition: totals}, nil
}

func aggregateRange(statuses []*mapoutput.MapStatus, totals []int64, lo, hi int) {
	for _, st := range statuses {
		if st == nil {
			continue
		}
		for p := lo; p < hi; p++ {
			totals[p] += st.SizeForBlock(p)
		}
	}
}

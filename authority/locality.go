package authority

import (
	"fmt"

	"github.com/corral-shuffle/tracker/mapoutput"
)

type locKey struct {
	shuffleID   int32
	reducerID   int
	numReducers int
}

func (k locKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.shuffleID, k.reducerID, k.numReducers)
}

// GetPreferredLocationsForShuffle returns the locations holding at least
// ReducerPrefLocsFraction of reducerID's total input bytes, skipping the
// computation entirely once the stage is too large for it to be worth the
// cost (ShufflePrefMapThreshold, ShufflePrefReduceThreshold).
func (a *TrackerAuthority) GetPreferredLocationsForShuffle(shuffleID int32, reducerID, numReducers int) []mapoutput.BlockManagerId {
	s, ok := a.lookup(shuffleID)
	if !ok {
		return nil
	}

	var numMaps int
	s.WithMapStatuses(func(statuses []*mapoutput.MapStatus) { numMaps = len(statuses) })
	if numMaps >= ShufflePrefMapThreshold || numReducers >= ShufflePrefReduceThreshold {
		return nil
	}

	key := locKey{shuffleID: shuffleID, reducerID: reducerID, numReducers: numReducers}
	if cached, ok := a.locCache.Get(key); ok {
		return cached.([]mapoutput.BlockManagerId)
	}

	locs := a.GetLocationsWithLargestOutputs(shuffleID, reducerID, numReducers)
	a.locCache.Add(key, locs)
	return locs
}

// GetLocationsWithLargestOutputs sums, per BlockManagerId, the bytes that
// location holds for reducerID's input, and returns the ones whose share of
// the total meets ReducerPrefLocsFraction.
func (a *TrackerAuthority) GetLocationsWithLargestOutputs(shuffleID int32, reducerID, numReducers int) []mapoutput.BlockManagerId {
	s, ok := a.lookup(shuffleID)
	if !ok {
		return nil
	}

	totals := make(map[mapoutput.BlockManagerId]int64)
	var grandTotal int64
	s.WithMapStatuses(func(statuses []*mapoutput.MapStatus) {
		for _, st := range statuses {
			if st == nil {
				continue
			}
			size := st.SizeForBlock(reducerID)
			if size <= 0 {
				continue
			}
			totals[st.Location] += size
			grandTotal += size
		}
	})
	if grandTotal == 0 {
		return nil
	}

	var preferred []mapoutput.BlockManagerId
	threshold := ReducerPrefLocsFraction * float64(grandTotal)
	for loc, total := range totals {
		if float64(total) >= threshold {
			preferred = append(preferred, loc)
		}
	}
	return preferred
}

// purgeLocationCache drops every cached locality entry for shuffleID. The
// LRU has no per-prefix eviction, so this walks its current key set rather
// than tracking a reverse index nobody else needs.
func (a *TrackerAuthority) purgeLocationCache(shuffleID int32) {
	for _, k := range a.locCache.Keys() {
		if lk, ok := k.(locKey); ok && lk.shuffleID == shuffleID {
			a.locCache.Remove(k)
		}
	}
}

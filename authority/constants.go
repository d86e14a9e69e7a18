package authority

// Thresholds and defaults governing locality computation and the
// dispatcher pool.
const (
	// ShufflePrefMapThreshold: at or above this many maps, locality
	// computation is skipped as too expensive relative to its scheduling benefit.
	ShufflePrefMapThreshold = 1000
	// ShufflePrefReduceThreshold: same gate, on the reducer-count axis.
	ShufflePrefReduceThreshold = 1000
	// ReducerPrefLocsFraction is the minimum share of a reducer's total
	// input bytes a single BlockManagerId must hold to be considered a
	// preferred location for it.
	ReducerPrefLocsFraction = 0.2

	// DefaultDispatcherThreads is the default size of the message-loop
	// pool consuming GetMapOutputStatuses requests.
	DefaultDispatcherThreads = 8

	// maxConcurrentAggregators bounds how many GetStatistics sub-range
	// aggregators may run at once, independent of how many sub-ranges a
	// stage splits into. Kept well below typical GOMAXPROCS so it can
	// actually throttle a wide stage rather than just mirror its chunk
	// count.
	maxConcurrentAggregators = 4

	// poisonShuffleID is the sentinel enqueued to shut the dispatcher
	// pool down. Chosen as an agreed-upon value no real shuffle id will
	// ever take.
	poisonShuffleID int32 = -99
)

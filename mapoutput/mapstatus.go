package mapoutput

import "sort"

// StatusKind discriminates the two MapStatus wire variants a registration can
// choose between. The serializer must stay format-agnostic across both.
type StatusKind uint8

const (
	// Compressed stores one exact size per downstream partition. Cheap to
	// read, but O(numReducers) bytes per map task.
	Compressed StatusKind = iota
	// HighlyCompressed drops the per-partition array in favor of the list
	// of non-empty partitions plus their average size. Used for catalogs
	// with enough partitions that the exact array would dominate memory.
	HighlyCompressed
)

// MapStatus describes one map task's output: where it landed, and how large
// each downstream partition's slice of it is (or is estimated to be).
//
// A MapStatus is immutable once constructed; callers must not mutate its
// slices in place.
type MapStatus struct {
	Location BlockManagerId
	Kind     StatusKind

	// Sizes holds one entry per reduce partition when Kind == Compressed.
	Sizes []int64

	// NonEmptyBlocks holds, in ascending order, the partition ids with a
	// non-zero size when Kind == HighlyCompressed.
	NonEmptyBlocks []int32
	// AvgSize is the average size across NonEmptyBlocks when Kind ==
	// HighlyCompressed.
	AvgSize int64
	// NumPartitions is the total number of downstream partitions this
	// status covers, needed by HighlyCompressed to answer SizeForBlock for
	// partitions outside NonEmptyBlocks.
	NumPartitions int
}

// NewMapStatus builds the ordinary, exact-size variant.
func NewMapStatus(location BlockManagerId, sizes []int64) *MapStatus {
	cp := make([]int64, len(sizes))
	copy(cp, sizes)
	return &MapStatus{
		Location: location,
		Kind:     Compressed,
		Sizes:    cp,
	}
}

// NewHighlyCompressedMapStatus builds the lossy, memory-frugal variant: only
// the non-empty partitions and their average size are retained.
func NewHighlyCompressedMapStatus(location BlockManagerId, sizes []int64) *MapStatus {
	var nonEmpty []int32
	var total int64
	for i, s := range sizes {
		if s > 0 {
			nonEmpty = append(nonEmpty, int32(i))
			total += s
		}
	}
	var avg int64
	if len(nonEmpty) > 0 {
		avg = total / int64(len(nonEmpty))
	}
	sort.Slice(nonEmpty, func(i, j int) bool { return nonEmpty[i] < nonEmpty[j] })
	return &MapStatus{
		Location:       location,
		Kind:           HighlyCompressed,
		NonEmptyBlocks: nonEmpty,
		AvgSize:        avg,
		NumPartitions:  len(sizes),
	}
}

// SizeForBlock returns the size estimate for the given downstream partition.
func (m *MapStatus) SizeForBlock(partitionID int) int64 {
	switch m.Kind {
	case Compressed:
		if partitionID < 0 || partitionID >= len(m.Sizes) {
			return 0
		}
		return m.Sizes[partitionID]
	case HighlyCompressed:
		if partitionID < 0 || partitionID >= m.NumPartitions {
			return 0
		}
		idx := sort.Search(len(m.NonEmptyBlocks), func(i int) bool {
			return m.NonEmptyBlocks[i] >= int32(partitionID)
		})
		if idx < len(m.NonEmptyBlocks) && m.NonEmptyBlocks[idx] == int32(partitionID) {
			return m.AvgSize
		}
		return 0
	default:
		return 0
	}
}

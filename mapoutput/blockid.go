package mapoutput

import "fmt"

// BlockId names one reduce-partition's slice of one map task's output: the
// unit a worker actually fetches. It carries no bytes itself — just enough
// to address them on the node named by the MapStatus's BlockManagerId.
type BlockId struct {
	ShuffleID int32
	MapID     int
	ReduceID  int
}

func (b BlockId) String() string {
	return fmt.Sprintf("shuffle_%d_%d_%d", b.ShuffleID, b.MapID, b.ReduceID)
}

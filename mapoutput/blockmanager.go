package mapoutput

import "fmt"

// BlockManagerId is the logical address of a node's block-storage service:
// the executor that owns it plus the host/port it is reachable on.
type BlockManagerId struct {
	ExecutorID string
	Host       string
	Port       int
}

// Equal reports whether two ids name the same block manager.
func (b BlockManagerId) Equal(other BlockManagerId) bool {
	return b.ExecutorID == other.ExecutorID && b.Host == other.Host && b.Port == other.Port
}

func (b BlockManagerId) String() string {
	return fmt.Sprintf("%s@%s:%d", b.ExecutorID, b.Host, b.Port)
}

package trackerclient_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corral-shuffle/tracker/internal/rpcx"
	"github.com/corral-shuffle/tracker/mapoutput"
	"github.com/corral-shuffle/tracker/trackerclient"
)

func bm(exec, host string) mapoutput.BlockManagerId {
	return mapoutput.BlockManagerId{ExecutorID: exec, Host: host, Port: 9000}
}

// countingTransport counts Ask calls and blocks the first one until release
// is closed, so concurrent callers are forced to actually race each other
// at the fetch gate rather than finishing before the others even start.
type countingTransport struct {
	asks    int32
	payload []byte
	release chan struct{}
}

func (t *countingTransport) Ask(ctx context.Context, endpoint string, shuffleID int32) ([]byte, error) {
	atomic.AddInt32(&t.asks, 1)
	<-t.release
	return t.payload, nil
}

func fixturePayload(t *testing.T) []byte {
	t.Helper()
	statuses := []*mapoutput.MapStatus{
		mapoutput.NewMapStatus(bm("e0", "h0"), []int64{10, 20}),
		mapoutput.NewMapStatus(bm("e1", "h1"), []int64{5, 5}),
	}
	data, _, err := mapoutput.SerializeMapStatuses(statuses, nil, false, 1<<30)
	require.NoError(t, err)
	return data
}

func TestGetMapSizesByExecutorIdGroupsByLocation(t *testing.T) {
	tr := &countingTransport{payload: fixturePayload(t), release: make(chan struct{})}
	close(tr.release)
	c := trackerclient.New(tr, nil, nil)

	blocks, err := c.GetMapSizesByExecutorId(context.Background(), 7, 1, 2)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, bm("e0", "h0"), blocks[0].Location)
	assert.Equal(t, int64(20), blocks[0].Blocks[0].Size)
	assert.Equal(t, bm("e1", "h1"), blocks[1].Location)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.asks))
}

func TestGetMapSizesByExecutorIdMissingMapFails(t *testing.T) {
	statuses := []*mapoutput.MapStatus{
		mapoutput.NewMapStatus(bm("e0", "h0"), []int64{10, 20}),
		nil,
		mapoutput.NewMapStatus(bm("e0", "h0"), []int64{0, 100}),
	}
	data, _, err := mapoutput.SerializeMapStatuses(statuses, nil, false, 1<<30)
	require.NoError(t, err)

	tr := &countingTransport{payload: data, release: make(chan struct{})}
	close(tr.release)
	c := trackerclient.New(tr, nil, nil)

	_, err = c.GetMapSizesByExecutorId(context.Background(), 7, 0, 3)
	require.Error(t, err)
	fetchErr, ok := err.(*mapoutput.MetadataFetchFailedError)
	require.True(t, ok)
	assert.Equal(t, int32(7), fetchErr.ShuffleID)
	assert.Equal(t, 0, fetchErr.PartitionID)
}

func TestConcurrentGetStatusesCoalescesIntoOneFetch(t *testing.T) {
	tr := &countingTransport{payload: fixturePayload(t), release: make(chan struct{})}
	c := trackerclient.New(tr, nil, nil)

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := c.GetMapSizesByExecutorId(context.Background(), 3, 0, 2)
			errs[i] = err
		}(i)
	}

	// Give every goroutine a chance to queue up behind the fetch gate
	// before letting the one elected fetcher proceed.
	time.Sleep(50 * time.Millisecond)
	close(tr.release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.asks))
}

func TestUpdateEpochInvalidatesCacheAndTriggersRefetch(t *testing.T) {
	tr := &countingTransport{payload: fixturePayload(t), release: make(chan struct{})}
	close(tr.release)
	c := trackerclient.New(tr, nil, nil)

	_, err := c.GetMapSizesByExecutorId(context.Background(), 9, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.asks))

	c.UpdateEpoch(c.GetEpoch() + 1)

	_, err = c.GetMapSizesByExecutorId(context.Background(), 9, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tr.asks))
}

func TestUpdateEpochIgnoresNonIncreasingValues(t *testing.T) {
	tr := &countingTransport{payload: fixturePayload(t), release: make(chan struct{})}
	close(tr.release)
	c := trackerclient.New(tr, nil, nil)

	c.UpdateEpoch(5)
	require.Equal(t, uint64(5), c.GetEpoch())
	c.UpdateEpoch(5)
	c.UpdateEpoch(1)
	assert.Equal(t, uint64(5), c.GetEpoch())
}

func TestUnregisterShuffleDropsCacheEntry(t *testing.T) {
	tr := &countingTransport{payload: fixturePayload(t), release: make(chan struct{})}
	close(tr.release)
	c := trackerclient.New(tr, nil, nil)

	_, err := c.GetMapSizesByExecutorId(context.Background(), 4, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.asks))

	c.UnregisterShuffle(4)

	_, err = c.GetMapSizesByExecutorId(context.Background(), 4, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tr.asks))
}

// trivial interface check: Client only needs rpcx.LocalTransport's shape.
var _ trackerclient.Transport = (*rpcx.LocalTransport)(nil)

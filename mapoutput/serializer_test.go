package mapoutput_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corral-shuffle/tracker/internal/broadcastx"
	"github.com/corral-shuffle/tracker/mapoutput"
)

func sampleStatuses() []*mapoutput.MapStatus {
	return []*mapoutput.MapStatus{
		mapoutput.NewMapStatus(bm("e0", "host-a"), []int64{10, 20, 30}),
		nil,
		mapoutput.NewHighlyCompressedMapStatus(bm("e2", "host-c"), []int64{0, 100, 0}),
	}
}

func assertStatusesEqual(t *testing.T, want, got []*mapoutput.MapStatus) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if want[i] == nil {
			assert.Nil(t, got[i], "slot %d", i)
			continue
		}
		require.NotNil(t, got[i], "slot %d", i)
		assert.Equal(t, want[i].Location, got[i].Location, "slot %d location", i)
		assert.Equal(t, want[i].Kind, got[i].Kind, "slot %d kind", i)
		for p := 0; p < 8; p++ {
			assert.Equal(t, want[i].SizeForBlock(p), got[i].SizeForBlock(p), "slot %d partition %d", i, p)
		}
	}
}

func TestSerializeRoundTripBelowBroadcastThreshold(t *testing.T) {
	statuses := sampleStatuses()
	mgr := broadcastx.NewLocalBroadcastManager()

	data, handle, err := mapoutput.SerializeMapStatuses(statuses, mgr, true, 1<<20)
	require.NoError(t, err)
	require.Nil(t, handle)
	require.Equal(t, mapoutput.TagDirect, data[0])

	got, err := mapoutput.DeserializeMapStatuses(data, nil)
	require.NoError(t, err)
	assertStatusesEqual(t, statuses, got)
}

func TestSerializeRoundTripAboveBroadcastThreshold(t *testing.T) {
	statuses := sampleStatuses()
	mgr := broadcastx.NewLocalBroadcastManager()

	data, handle, err := mapoutput.SerializeMapStatuses(statuses, mgr, true, 0)
	require.NoError(t, err)
	require.NotNil(t, handle)
	require.Equal(t, mapoutput.TagBroadcast, data[0])

	got, err := mapoutput.DeserializeMapStatuses(data, mgr)
	require.NoError(t, err)
	assertStatusesEqual(t, statuses, got)
}

func TestDeserializeRejectsUnknownTag(t *testing.T) {
	_, err := mapoutput.DeserializeMapStatuses([]byte{0x42, 0x00}, nil)
	require.Error(t, err)
	var protoErr *mapoutput.ErrProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestDeserializeBroadcastWithoutResolverFails(t *testing.T) {
	statuses := sampleStatuses()
	mgr := broadcastx.NewLocalBroadcastManager()
	data, _, err := mapoutput.SerializeMapStatuses(statuses, mgr, true, 0)
	require.NoError(t, err)

	_, err = mapoutput.DeserializeMapStatuses(data, nil)
	assert.Error(t, err)
}

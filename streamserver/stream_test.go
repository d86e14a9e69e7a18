package streamserver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corral-shuffle/tracker/streamserver"
)

type fakeChunk struct {
	id       string
	released *bool
}

func (c *fakeChunk) Release() { *c.released = true }

type fakeConn struct{ id string }

func (c *fakeConn) ID() string { return c.id }

type fakeClient struct{ id string }

func (c *fakeClient) Identity() string { return c.id }

// sliceSequence adapts a slice of fakeChunks to streamserver.Sequence.
type sliceSequence struct {
	chunks []*fakeChunk
	pos    int
}

func newSequence(ids ...string) (*sliceSequence, []*bool) {
	released := make([]*bool, len(ids))
	chunks := make([]*fakeChunk, len(ids))
	for i, id := range ids {
		r := new(bool)
		released[i] = r
		chunks[i] = &fakeChunk{id: id, released: r}
	}
	return &sliceSequence{chunks: chunks}, released
}

func (s *sliceSequence) HasNext() bool { return s.pos < len(s.chunks) }

func (s *sliceSequence) Next() streamserver.Chunk {
	c := s.chunks[s.pos]
	s.pos++
	return c
}

func TestGetChunkEnforcesOrderAndAdvances(t *testing.T) {
	seq, _ := newSequence("b0", "b1", "b2")
	srv := streamserver.New(nil)
	sid := srv.RegisterStream("", seq)
	srv.RegisterChannel(&fakeConn{id: "c1"}, sid)

	c0, err := srv.GetChunk(sid, 0)
	require.NoError(t, err)
	assert.Equal(t, "b0", c0.(*fakeChunk).id)

	_, err = srv.GetChunk(sid, 2)
	require.Error(t, err)
	_, ok := err.(*streamserver.OutOfOrderChunkError)
	assert.True(t, ok)

	c1, err := srv.GetChunk(sid, 1)
	require.NoError(t, err)
	assert.Equal(t, "b1", c1.(*fakeChunk).id)
}

func TestGetChunkRemovesDrainedStreamImmediately(t *testing.T) {
	seq, _ := newSequence("b0")
	srv := streamserver.New(nil)
	sid := srv.RegisterStream("", seq)

	_, err := srv.GetChunk(sid, 0)
	require.NoError(t, err)

	_, err = srv.GetChunk(sid, 1)
	require.Error(t, err)
	_, ok := err.(*streamserver.PastEndChunkError)
	assert.True(t, ok)
}

func TestConnectionTerminatedReleasesRemainingBuffersAndDeregisters(t *testing.T) {
	seq, released := newSequence("b0", "b1", "b2")
	srv := streamserver.New(nil)
	sid := srv.RegisterStream("", seq)
	conn := &fakeConn{id: "c1"}
	srv.RegisterChannel(conn, sid)

	_, err := srv.GetChunk(sid, 0)
	require.NoError(t, err)
	assert.False(t, *released[1])
	assert.False(t, *released[2])

	srv.ConnectionTerminated(conn)

	assert.True(t, *released[1])
	assert.True(t, *released[2])

	_, err = srv.GetChunk(sid, 1)
	require.Error(t, err)
}

func TestConnectionTerminatedIgnoresUnrelatedConnections(t *testing.T) {
	seq, _ := newSequence("b0")
	srv := streamserver.New(nil)
	sid := srv.RegisterStream("", seq)
	srv.RegisterChannel(&fakeConn{id: "c1"}, sid)

	srv.ConnectionTerminated(&fakeConn{id: "other"})

	_, err := srv.GetChunk(sid, 0)
	assert.NoError(t, err)
}

func TestCheckAuthorizationAllowsAnonymousClients(t *testing.T) {
	seq, _ := newSequence("b0")
	srv := streamserver.New(nil)
	sid := srv.RegisterStream("app-A", seq)

	assert.NoError(t, srv.CheckAuthorization(&fakeClient{id: ""}, sid))
}

func TestCheckAuthorizationRejectsMismatchedIdentity(t *testing.T) {
	seq, _ := newSequence("b0")
	srv := streamserver.New(nil)
	sid := srv.RegisterStream("app-A", seq)

	err := srv.CheckAuthorization(&fakeClient{id: "app-B"}, sid)
	require.Error(t, err)
	_, ok := err.(*streamserver.UnauthorizedError)
	assert.True(t, ok)

	assert.NoError(t, srv.CheckAuthorization(&fakeClient{id: "app-A"}, sid))
}

func TestChunksBeingTransferredSumsAcrossStreams(t *testing.T) {
	seq1, _ := newSequence("a0")
	seq2, _ := newSequence("b0")
	srv := streamserver.New(nil)
	sid1 := srv.RegisterStream("", seq1)
	sid2 := srv.RegisterStream("", seq2)

	srv.ChunkBeingSent(sid1)
	srv.ChunkBeingSent(sid1)
	srv.ChunkBeingSent(sid2)
	assert.Equal(t, int64(3), srv.ChunksBeingTransferred())

	srv.ChunkSent(sid1)
	assert.Equal(t, int64(2), srv.ChunksBeingTransferred())

	// Unknown stream ids are tolerated as no-ops.
	srv.ChunkBeingSent(99999)
	srv.ChunkSent(99999)
}

func TestOpenStreamUsesStreamChunkIdFormat(t *testing.T) {
	seq, _ := newSequence("b0", "b1")
	srv := streamserver.New(nil)
	sid := srv.RegisterStream("", seq)

	c, err := srv.OpenStream(streamserver.StreamChunkID(sid, 0))
	require.NoError(t, err)
	assert.Equal(t, "b0", c.(*fakeChunk).id)
}

func TestNewStreamIdsStartFromRandomSeed(t *testing.T) {
	seq, _ := newSequence("b0")
	srv := streamserver.New(nil)
	sid := srv.RegisterStream("", seq)
	// Real shuffle ids start at 0; the seed is astronomically unlikely to
	// land near there, which is the whole point (distinguishability).
	assert.NotEqual(t, int64(0), sid)
}

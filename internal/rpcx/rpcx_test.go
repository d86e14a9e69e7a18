package rpcx_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corral-shuffle/tracker/internal/rpcx"
)

type stubEndpoint struct {
	reply   []byte
	err     error
	stopped bool
}

func (s *stubEndpoint) RequestMapOutputStatuses(ctx context.Context, shuffleID int32) ([]byte, error) {
	return s.reply, s.err
}

func (s *stubEndpoint) Stop(ctx context.Context) error {
	s.stopped = true
	return nil
}

func TestAskRoutesToRegisteredEndpoint(t *testing.T) {
	ep := &stubEndpoint{reply: []byte("hello")}
	tr := rpcx.NewLocalTransport()
	tr.RegisterEndpoint(rpcx.EndpointName, ep)

	data, err := tr.Ask(context.Background(), rpcx.EndpointName, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestAskUnknownEndpointFails(t *testing.T) {
	tr := rpcx.NewLocalTransport()
	_, err := tr.Ask(context.Background(), "nonexistent", 1)
	assert.Error(t, err)
}

func TestStopStopsEveryEndpointAndRefusesFurtherAsks(t *testing.T) {
	ep := &stubEndpoint{}
	tr := rpcx.NewLocalTransport()
	tr.RegisterEndpoint(rpcx.EndpointName, ep)

	require.NoError(t, tr.Stop(context.Background()))
	assert.True(t, ep.stopped)

	_, err := tr.Ask(context.Background(), rpcx.EndpointName, 1)
	assert.Error(t, err)
}

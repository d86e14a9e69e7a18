// Package streamserver implements the one-shot streaming chunk server: it
// registers ordered lazy sequences of buffers and serves them chunk-by-
// chunk to whichever connection claims the stream, guaranteeing in-order,
// single-consumer delivery and reclaiming unconsumed buffers on connection
// loss. It is independent of the catalog-tracking path — it lives on
// whichever node physically hosts the shuffle bytes.
package streamserver

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Chunk is one buffer of a registered sequence: a reference-counted
// external resource (a file segment, a pooled network buffer) that must be
// released exactly once, whether consumed normally by the wire or
// abandoned on disconnect.
type Chunk interface {
	Release()
}

// Sequence is a lazy, ordered source of Chunks, mirroring Java's Iterator
// contract: callers must check HasNext before calling Next. Implementations
// only need to support a single consumer — the registry enforces that at
// most one connection is ever associated with a given stream.
type Sequence interface {
	HasNext() bool
	Next() Chunk
}

// Connection identifies the transport-level connection a stream is
// associated with; comparisons are by ID, not by Go identity, so transports
// are free to hand out distinct wrapper values for the same underlying
// socket.
type Connection interface {
	ID() string
}

// Client identifies the caller of CheckAuthorization. An empty Identity
// means an anonymous caller, which is always authorized.
type Client interface {
	Identity() string
}

type streamState struct {
	appID    string
	seq      Sequence
	conn     Connection
	nextIdx  int
	inFlight int64
}

// Server registers ordered lazy sequences of buffers and serves them
// chunk-by-chunk. The registry is a mutex-guarded map; a stream's nextIdx
// needs no cross-consumer protection because the contract is at-most-one
// consumer per stream, but its inFlight counter is touched from transport
// callbacks on arbitrary goroutines and is kept atomic.
type Server struct {
	mu      sync.Mutex
	streams map[int64]*streamState
	nextID  int64

	log *logrus.Logger
}

// New returns an empty Server. The first allocated stream id starts from a
// random 32-bit seed times 1000 — not zero — so that independently started
// processes are visually distinguishable by stream id in logs.
func New(log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		streams: make(map[int64]*streamState),
		nextID:  int64(rand.New(rand.NewSource(time.Now().UnixNano())).Int31()) * 1000,
		log:     log,
	}
}

// RegisterStream allocates a fresh stream id for seq and stores it
// unassociated with any connection. appID may be empty, meaning the stream
// has no access restriction.
func (s *Server) RegisterStream(appID string, seq Sequence) int64 {
	id := atomic.AddInt64(&s.nextID, 1) - 1
	s.mu.Lock()
	s.streams[id] = &streamState{appID: appID, seq: seq}
	s.mu.Unlock()
	return id
}

// RegisterChannel associates conn with streamID as its sole allowed
// consumer. A no-op if the stream doesn't exist (already drained, or never
// registered).
func (s *Server) RegisterChannel(conn Connection, streamID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[streamID]; ok {
		st.conn = conn
	}
}

// GetChunk returns the next chunk of streamID, which must be chunkIndex.
// Requesting anything but the stream's next expected index fails with
// OutOfOrderChunkError; requesting past a drained (or unknown) stream fails
// with PastEndChunkError. If the underlying sequence is now exhausted after
// this call, the stream is removed from the registry immediately, in this
// same call — the returned chunk is still valid, the transport releases it
// after sending.
func (s *Server) GetChunk(streamID int64, chunkIndex int) (Chunk, error) {
	s.mu.Lock()
	st, ok := s.streams[streamID]
	s.mu.Unlock()
	if !ok {
		return nil, &PastEndChunkError{StreamID: streamID, ChunkIndex: chunkIndex}
	}

	if chunkIndex != st.nextIdx {
		return nil, &OutOfOrderChunkError{StreamID: streamID, Want: st.nextIdx, Got: chunkIndex}
	}
	if !st.seq.HasNext() {
		return nil, &PastEndChunkError{StreamID: streamID, ChunkIndex: chunkIndex}
	}

	chunk := st.seq.Next()
	st.nextIdx++

	if !st.seq.HasNext() {
		s.mu.Lock()
		delete(s.streams, streamID)
		s.mu.Unlock()
		s.log.WithField("streamId", streamID).Trace("streamserver: stream drained")
	}
	return chunk, nil
}

// OpenStream accepts the "<streamId>_<chunkIndex>" textual form and
// re-enters GetChunk.
func (s *Server) OpenStream(streamChunkID string) (Chunk, error) {
	streamID, chunkIndex, err := parseStreamChunkID(streamChunkID)
	if err != nil {
		return nil, err
	}
	return s.GetChunk(streamID, chunkIndex)
}

// CheckAuthorization enforces identity equality only when client presents
// a non-empty identity; an anonymous client is always authorized.
func (s *Server) CheckAuthorization(client Client, streamID int64) error {
	identity := client.Identity()
	if identity == "" {
		return nil
	}

	s.mu.Lock()
	st, ok := s.streams[streamID]
	s.mu.Unlock()
	if !ok {
		return &UnknownStreamError{StreamID: streamID}
	}
	if st.appID != identity {
		return &UnauthorizedError{StreamID: streamID, ClientID: identity, AppID: st.appID}
	}
	return nil
}

// ChunkBeingSent records that one more chunk of streamID is now in flight.
// A no-op on an unknown stream id.
func (s *Server) ChunkBeingSent(streamID int64) {
	s.mu.Lock()
	st, ok := s.streams[streamID]
	s.mu.Unlock()
	if ok {
		atomic.AddInt64(&st.inFlight, 1)
	}
}

// StreamBeingSent is ChunkBeingSent's "<streamId>_<chunkIndex>" counterpart.
func (s *Server) StreamBeingSent(streamChunkID string) error {
	streamID, _, err := parseStreamChunkID(streamChunkID)
	if err != nil {
		return err
	}
	s.ChunkBeingSent(streamID)
	return nil
}

// ChunkSent records that one in-flight chunk of streamID has finished
// sending. A no-op on an unknown stream id.
func (s *Server) ChunkSent(streamID int64) {
	s.mu.Lock()
	st, ok := s.streams[streamID]
	s.mu.Unlock()
	if ok {
		atomic.AddInt64(&st.inFlight, -1)
	}
}

// StreamSent is ChunkSent's "<streamId>_<chunkIndex>" counterpart.
func (s *Server) StreamSent(streamChunkID string) error {
	streamID, _, err := parseStreamChunkID(streamChunkID)
	if err != nil {
		return err
	}
	s.ChunkSent(streamID)
	return nil
}

// ChunksBeingTransferred sums chunksInFlight across every active stream.
func (s *Server) ChunksBeingTransferred() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, st := range s.streams {
		sum += atomic.LoadInt64(&st.inFlight)
	}
	return sum
}

// ConnectionTerminated removes every stream associated with conn from the
// registry and drains the remainder of each one's sequence, releasing every
// buffer it still held. Buffers are reference-counted external resources
// (file segments, network buffers); leaking them leaks file descriptors.
func (s *Server) ConnectionTerminated(conn Connection) {
	s.mu.Lock()
	var drained []*streamState
	for id, st := range s.streams {
		if st.conn != nil && st.conn.ID() == conn.ID() {
			delete(s.streams, id)
			drained = append(drained, st)
		}
	}
	s.mu.Unlock()

	for _, st := range drained {
		for st.seq.HasNext() {
			st.seq.Next().Release()
		}
	}
}

// StreamChunkID formats the "<streamId>_<chunkIndex>" textual stream
// identifier used by openStream/streamSent/streamBeingSent.
func StreamChunkID(streamID int64, chunkIndex int) string {
	return fmt.Sprintf("%d_%d", streamID, chunkIndex)
}

func parseStreamChunkID(id string) (int64, int, error) {
	parts := strings.SplitN(id, "_", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("streamserver: malformed stream chunk id %q", id)
	}
	streamID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("streamserver: malformed stream id in %q: %w", id, err)
	}
	chunkIndex, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("streamserver: malformed chunk index in %q: %w", id, err)
	}
	return streamID, chunkIndex, nil
}

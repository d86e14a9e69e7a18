package streamserver

import "fmt"

// OutOfOrderChunkError is returned by GetChunk when the requested index
// isn't the stream's next expected chunk.
type OutOfOrderChunkError struct {
	StreamID  int64
	Want, Got int
}

func (e *OutOfOrderChunkError) Error() string {
	return fmt.Sprintf("streamserver: out-of-order chunk for stream %d: got %d, want %d", e.StreamID, e.Got, e.Want)
}

// PastEndChunkError is returned by GetChunk when the stream's sequence is
// already drained, or the stream is unknown (drained and reaped, or never
// registered).
type PastEndChunkError struct {
	StreamID   int64
	ChunkIndex int
}

func (e *PastEndChunkError) Error() string {
	return fmt.Sprintf("streamserver: chunk %d requested past end of stream %d", e.ChunkIndex, e.StreamID)
}

// UnknownStreamError is returned by CheckAuthorization when an identified
// client asks about a stream id that was never registered, or has already
// been drained and reaped.
type UnknownStreamError struct {
	StreamID int64
}

func (e *UnknownStreamError) Error() string {
	return fmt.Sprintf("streamserver: unknown stream id %d", e.StreamID)
}

// UnauthorizedError is returned by CheckAuthorization when an identified
// client's id doesn't match the stream's registered appID.
type UnauthorizedError struct {
	StreamID int64
	ClientID string
	AppID    string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("streamserver: client %q not authorized to read stream %d (app %q)", e.ClientID, e.StreamID, e.AppID)
}

package mapoutput

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
)

// Wire framing tags. Byte 0 of every catalog reply is one of these; any
// other value is a protocol error. This is a wire contract: it must stay
// stable across versions of this subsystem.
const (
	TagDirect    byte = 0x00
	TagBroadcast byte = 0x01
)

// wireEntry is the on-the-wire shape of one mapStatuses slot. Present is
// false for an empty slot, letting the array round-trip through gob without
// relying on nil-pointer semantics.
type wireEntry struct {
	Present bool
	Status  MapStatus
}

// SerializeMapStatuses encodes statuses into the catalog wire format.
// Two wire shapes exist: a DIRECT frame (tag + gzip'd gob of the array), promoted
// to a BROADCAST frame (tag + gzip'd gob of a broadcast handle reference)
// when the DIRECT form is at least minBroadcastSize bytes.
//
// The returned BroadcastHandle is non-nil only when promotion happened; the
// caller (ShuffleStatus) is responsible for pinning it for as long as the
// cache entry lives and destroying it on invalidation.
func SerializeMapStatuses(statuses []*MapStatus, bcMgr BroadcastManager, localMode bool, minBroadcastSize int) ([]byte, BroadcastHandle, error) {
	entries := make([]wireEntry, len(statuses))
	for i, s := range statuses {
		if s != nil {
			entries[i] = wireEntry{Present: true, Status: *s}
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return nil, nil, err
	}

	direct, err := frameDirect(buf.Bytes())
	if err != nil {
		return nil, nil, err
	}
	if len(direct) < minBroadcastSize {
		return direct, nil, nil
	}

	handle, err := bcMgr.NewBroadcast(direct, localMode)
	if err != nil {
		// Broadcast promotion failed; fall back to the (larger) direct
		// frame rather than losing the catalog reply outright.
		return direct, nil, nil
	}

	var envBuf bytes.Buffer
	if err := gob.NewEncoder(&envBuf).Encode(broadcastEnvelope{ID: handle.ID()}); err != nil {
		return nil, nil, err
	}
	outer, err := frameBroadcast(envBuf.Bytes())
	if err != nil {
		return nil, nil, err
	}
	return outer, handle, nil
}

// DeserializeMapStatuses decodes a catalog reply produced by
// SerializeMapStatuses. resolver is only consulted for BROADCAST-framed
// replies; pass nil if the caller knows it will only ever see DIRECT frames
// (e.g. in tests constructing small fixtures).
func DeserializeMapStatuses(data []byte, resolver BroadcastResolver) ([]*MapStatus, error) {
	if len(data) == 0 {
		return nil, &ErrProtocolError{}
	}
	switch data[0] {
	case TagDirect:
		return decodeDirect(data[1:])
	case TagBroadcast:
		if resolver == nil {
			return nil, &ErrProtocolError{Tag: data[0]}
		}
		payload, err := gunzip(data[1:])
		if err != nil {
			return nil, err
		}
		var env broadcastEnvelope
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&env); err != nil {
			return nil, err
		}
		handle, err := resolver.Resolve(env.ID)
		if err != nil {
			return nil, err
		}
		inner, err := handle.Value()
		if err != nil {
			return nil, err
		}
		if len(inner) == 0 || inner[0] != TagDirect {
			return nil, &ErrProtocolError{Tag: firstByte(inner)}
		}
		return decodeDirect(inner[1:])
	default:
		return nil, &ErrProtocolError{Tag: data[0]}
	}
}

type broadcastEnvelope struct {
	ID string
}

func frameDirect(gobEncoded []byte) ([]byte, error) {
	payload, err := gzipBytes(gobEncoded)
	if err != nil {
		return nil, err
	}
	return append([]byte{TagDirect}, payload...), nil
}

func frameBroadcast(gobEncoded []byte) ([]byte, error) {
	payload, err := gzipBytes(gobEncoded)
	if err != nil {
		return nil, err
	}
	return append([]byte{TagBroadcast}, payload...), nil
}

func decodeDirect(gzipped []byte) ([]*MapStatus, error) {
	raw, err := gunzip(gzipped)
	if err != nil {
		return nil, err
	}
	var entries []wireEntry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entries); err != nil {
		return nil, err
	}
	statuses := make([]*MapStatus, len(entries))
	for i, e := range entries {
		if e.Present {
			s := e.Status
			statuses[i] = &s
		}
	}
	return statuses, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func firstByte(b []byte) byte {
	if len(b) == 0 {
		return 0xFF
	}
	return b[0]
}

// Package segmeta defines the persisted metadata record that locates one
// log segment's data within its logical streams.
//
// A segment does not own byte ranges on disk; it owns offset intervals
// (slices) inside four logical sub-streams: the record log, the offset
// index, the time index, and the transaction index. This record is what
// the log layer checkpoints to the substrate's key-value store and reads
// back on recovery.
//
// # Compatibility contract
//
// The short msgpack field tags (bo, ct, lmt, s, ls, os, ts, txs) are part
// of the persisted format. Never rename or remove a tag — only optional
// fields may be added. Records are encoded as tag-keyed maps, so a decoder
// ignores tags it does not know; readers and writers of different versions
// interoperate as long as the existing tags keep their meaning.
package segmeta

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// SliceRange is a half-open offset interval [Start, End) within one
// logical sub-stream. The zero value means "no data yet".
type SliceRange struct {
	Start int64 `msgpack:"s"`
	End   int64 `msgpack:"e"`
}

// IsZero reports whether the range carries no data.
func (r SliceRange) IsZero() bool { return r.Start == 0 && r.End == 0 }

// Len returns the number of offsets covered by the range.
func (r SliceRange) Len() int64 { return r.End - r.Start }

func (r SliceRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// SegmentMeta is one log segment's checkpointed metadata.
//
// Lifecycle: created when a segment is opened or rolled; the index ranges
// grow and LastModifiedMs advances as records are appended; encoded
// whenever the owning segment checkpoints; decoded on broker or segment
// recovery. BaseOffset is immutable after creation.
type SegmentMeta struct {
	// BaseOffset is the offset of the segment's first record.
	BaseOffset int64 `msgpack:"bo"`
	// CreateMs is the segment creation time, UTC milliseconds.
	CreateMs int64 `msgpack:"ct"`
	// LastModifiedMs advances on every segment mutation.
	LastModifiedMs int64 `msgpack:"lmt"`
	// StreamSuffix disambiguates logical streams shared across segments.
	StreamSuffix string `msgpack:"s"`

	// One slice per logical sub-stream.
	Log         SliceRange `msgpack:"ls"`
	OffsetIndex SliceRange `msgpack:"os"`
	TimeIndex   SliceRange `msgpack:"ts"`
	TxnIndex    SliceRange `msgpack:"txs"`
}

// Encode serialises m into its persisted form.
func (m *SegmentMeta) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("segmeta: encode segment %d: %w", m.BaseOffset, err)
	}
	return data, nil
}

// Decode deserialises a persisted record. Unknown field tags are ignored,
// absent tags leave their fields zero-valued.
func Decode(data []byte) (*SegmentMeta, error) {
	var m SegmentMeta
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("segmeta: decode: %w", err)
	}
	return &m, nil
}

func (m *SegmentMeta) String() string {
	return fmt.Sprintf(
		"SegmentMeta{base=%d, created=%d, modified=%d, suffix=%q, log=%s, offset=%s, time=%s, txn=%s}",
		m.BaseOffset, m.CreateMs, m.LastModifiedMs, m.StreamSuffix,
		m.Log, m.OffsetIndex, m.TimeIndex, m.TxnIndex,
	)
}

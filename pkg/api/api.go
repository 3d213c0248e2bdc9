// Package api defines the elastic-stream substrate contract.
//
// Design principle: the client layer (and every layer above it) must ONLY
// interact with the substrate through these interfaces. The substrate owns
// stream creation, replication, and durability; this contract is the whole
// surface estream consumes. Keeping the package interface-only means the
// resilient wrapper, the in-memory substrate, and any remote substrate
// binding are interchangeable without touching caller code.
//
// Every operation is asynchronous and fallible from the substrate's point
// of view: it returns a future immediately and resolves it from a substrate
// worker. The resilient wrapper in pkg/client is what upgrades create/open
// and slow-path fetch into never-permanently-failing operations.
package api

import (
	"github.com/snehjoshi/estream/pkg/future"
)

// Void is the result type of operations that complete without a value.
type Void = struct{}

// CreateStreamOptions carries the parameters for creating a new physical
// stream. Replica count and epoch are applied uniformly to every stream
// owned by one manager instance.
type CreateStreamOptions struct {
	// ReplicaCount is the replication factor requested from the substrate.
	ReplicaCount int
	// Epoch is the writer generation number guarding against stale writers.
	Epoch int64
}

// OpenStreamOptions carries the parameters for opening an existing stream.
type OpenStreamOptions struct {
	// Epoch is the writer generation to open the stream with. The substrate
	// fences writers carrying an older epoch.
	Epoch int64
}

// RecordBatch is one append unit: an opaque payload plus the record count
// it contains. The layer above owns the payload encoding.
type RecordBatch struct {
	// Count is the number of records encoded in Payload.
	Count int
	// BaseTimestamp is the timestamp of the first record, UTC milliseconds.
	BaseTimestamp int64
	// Payload is the encoded record data.
	Payload []byte
}

// AppendResult reports where an appended batch landed.
type AppendResult struct {
	// BaseOffset is the offset assigned to the first record of the batch.
	BaseOffset int64
}

// FetchResult carries the record batches overlapping a fetched range.
type FetchResult struct {
	Batches []RecordBatch
}

// Stream is one physical append-only stream owned by the substrate.
// The handle is non-owning: closing it releases this writer's claim, the
// stream itself lives on in the substrate.
type Stream interface {
	// ID returns the substrate-assigned 64-bit stream id.
	ID() int64
	// StartOffset returns the first readable offset (advanced by Trim).
	StartOffset() int64
	// NextOffset returns the offset the next appended record will get.
	// Monotonically non-decreasing.
	NextOffset() int64

	// Append writes one batch. The result resolves with the assigned base
	// offset, or with the substrate's failure verbatim.
	Append(batch RecordBatch) *future.Future[AppendResult]
	// Fetch reads batches overlapping [startOffset, endOffset).
	// maxBytesHint caps the returned payload size on a best-effort basis.
	Fetch(startOffset, endOffset int64, maxBytesHint int) *future.Future[FetchResult]
	// Trim advances the start offset to newStartOffset, logically deleting
	// everything before it.
	Trim(newStartOffset int64) *future.Future[Void]
	// Close releases this writer's claim on the stream.
	Close() *future.Future[Void]
	// Destroy removes the stream from the substrate entirely.
	Destroy() *future.Future[Void]
}

// StreamClient creates and opens physical streams.
type StreamClient interface {
	CreateAndOpenStream(opts CreateStreamOptions) *future.Future[Stream]
	OpenStream(streamID int64, opts OpenStreamOptions) *future.Future[Stream]
}

// KeyValue is one entry in the substrate's metadata key-value store.
type KeyValue struct {
	Key   string
	Value []byte
}

// KVClient is the substrate's metadata key-value store, used by the layer
// above to checkpoint segment metadata. It is passed through the resilient
// root client unmodified.
type KVClient interface {
	// PutKV upserts every entry.
	PutKV(kvs []KeyValue) *future.Future[Void]
	// GetKV returns one KeyValue per requested key, in request order.
	// Missing keys resolve with a nil Value, not an error.
	GetKV(keys []string) *future.Future[[]KeyValue]
	// DelKV removes the given keys. Missing keys are ignored.
	DelKV(keys []string) *future.Future[Void]
}

// Client is the substrate's top-level entry point.
type Client interface {
	StreamClient() StreamClient
	KVClient() KVClient
}

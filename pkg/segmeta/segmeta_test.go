package segmeta_test

import (
	"reflect"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/snehjoshi/estream/pkg/segmeta"
)

func TestRoundTrip(t *testing.T) {
	in := &segmeta.SegmentMeta{
		BaseOffset:     123_456,
		CreateMs:       1_700_000_000_000,
		LastModifiedMs: 1_700_000_123_456,
		StreamSuffix:   "cleaned.1",
		Log:            segmeta.SliceRange{Start: 100, End: 9_000},
		OffsetIndex:    segmeta.SliceRange{Start: 10, End: 90},
		TimeIndex:      segmeta.SliceRange{Start: 10, End: 90},
		TxnIndex:       segmeta.SliceRange{Start: 0, End: 3},
	}

	data, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := segmeta.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch:\n in  %s\n out %s", in, out)
	}
}

func TestRoundTrip_ZeroValue(t *testing.T) {
	in := &segmeta.SegmentMeta{}

	data, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := segmeta.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("zero-value round trip mismatch: got %s", out)
	}
	if !out.Log.IsZero() || !out.TxnIndex.IsZero() {
		t.Error("absent slices must decode as zero ranges")
	}
}

// TestFieldTags_Stable pins the persisted tag names. A failure here means
// the on-disk format changed — that is a compatibility break, not a
// refactor.
func TestFieldTags_Stable(t *testing.T) {
	in := &segmeta.SegmentMeta{
		BaseOffset:     1,
		CreateMs:       2,
		LastModifiedMs: 3,
		StreamSuffix:   "x",
		Log:            segmeta.SliceRange{Start: 4, End: 5},
	}
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var raw map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal into map: %v", err)
	}
	for _, tag := range []string{"bo", "ct", "lmt", "s", "ls", "os", "ts", "txs"} {
		if _, ok := raw[tag]; !ok {
			t.Errorf("persisted record missing tag %q (tags: %v)", tag, keys(raw))
		}
	}
}

func TestDecode_IgnoresUnknownTags(t *testing.T) {
	// A future writer may add tags; this reader must not reject them.
	record := map[string]any{
		"bo":  int64(99),
		"s":   "suffix",
		"ls":  map[string]any{"s": int64(1), "e": int64(2)},
		"v2x": "from-the-future",
	}
	data, err := msgpack.Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	out, err := segmeta.Decode(data)
	if err != nil {
		t.Fatalf("Decode with unknown tag: %v", err)
	}
	if out.BaseOffset != 99 || out.StreamSuffix != "suffix" {
		t.Errorf("known fields mis-decoded: %s", out)
	}
	if out.Log != (segmeta.SliceRange{Start: 1, End: 2}) {
		t.Errorf("nested range mis-decoded: %s", out.Log)
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := segmeta.Decode([]byte{0xc1, 0xff, 0x00}); err == nil {
		t.Fatal("Decode of garbage should fail")
	}
}

func keys(m map[string]msgpack.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

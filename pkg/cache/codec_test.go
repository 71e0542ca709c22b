package cache

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := &Codec{}

	in := map[string]interface{}{"id": "42", "name": "Ada"}
	data, compressed, err := codec.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if compressed {
		t.Fatal("small payload should not be compressed")
	}

	var out map[string]interface{}
	if err := codec.Decode(data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out["name"] != "Ada" {
		t.Fatalf("round trip lost data: %v", out)
	}
}

func TestCodecCompressesLargePayloads(t *testing.T) {
	codec := &Codec{Compress: true, CompressThreshold: 64}

	in := strings.Repeat("abcdefgh", 100)
	data, compressed, err := codec.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !compressed {
		t.Fatal("expected compression for a large repetitive payload")
	}
	if !bytes.HasPrefix(data, s2Magic) {
		t.Fatal("compressed payload missing magic prefix")
	}
	if len(data) >= len(in) {
		t.Fatalf("compressed size %d not smaller than input %d", len(data), len(in))
	}

	var out string
	if err := codec.Decode(data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Fatal("round trip through compression lost data")
	}
}

func TestCodecSkipsCompressionBelowThreshold(t *testing.T) {
	codec := &Codec{Compress: true, CompressThreshold: 1 << 20}

	data, compressed, err := codec.Encode(strings.Repeat("x", 100))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if compressed {
		t.Fatal("payload below threshold was compressed")
	}
	if bytes.HasPrefix(data, s2Magic) {
		t.Fatal("uncompressed payload carries magic prefix")
	}
}

func TestCodecDecodeGarbage(t *testing.T) {
	codec := &Codec{}

	var out interface{}
	if err := codec.Decode([]byte("{not json"), &out); !errors.Is(err, ErrSerialization) {
		t.Fatalf("got %v, want ErrSerialization", err)
	}
}

func TestCodecEncodeUnmarshalable(t *testing.T) {
	codec := &Codec{}

	if _, _, err := codec.Encode(make(chan int)); !errors.Is(err, ErrSerialization) {
		t.Fatalf("got %v, want ErrSerialization", err)
	}
}

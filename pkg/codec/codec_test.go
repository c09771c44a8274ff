package codec

import (
	"bytes"
	"testing"
)

func TestUint64RoundTrip(t *testing.T) {
	c := Uint64{}
	for _, v := range []uint64{0, 1, 255, 1 << 32, ^uint64(0)} {
		b, err := c.Encode(v)
		if err != nil {
			t.Fatalf("encode %d: %v", v, err)
		}
		got, err := c.Decode(b)
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d -> %d", v, got)
		}
	}
}

func TestUint64EncodingPreservesOrder(t *testing.T) {
	c := Uint64{}
	values := []uint64{0, 1, 2, 255, 256, 1 << 16, 1 << 32, ^uint64(0)}
	for i := 1; i < len(values); i++ {
		a, _ := c.Encode(values[i-1])
		b, _ := c.Encode(values[i])
		if bytes.Compare(a, b) >= 0 {
			t.Fatalf("encoding of %d does not sort below %d", values[i-1], values[i])
		}
	}
}

func TestUint64RejectsBadLength(t *testing.T) {
	c := Uint64{}
	if _, err := c.Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short input")
	}
	if _, err := c.Decode(make([]byte, 9)); err == nil {
		t.Fatal("expected error for long input")
	}
}

func TestStringRoundTrip(t *testing.T) {
	c := String{}
	for _, v := range []string{"", "a", "hello world", "\x00\xff"} {
		b, err := c.Encode(v)
		if err != nil {
			t.Fatalf("encode %q: %v", v, err)
		}
		got, err := c.Decode(b)
		if err != nil || got != v {
			t.Fatalf("round trip %q -> %q err=%v", v, got, err)
		}
	}
}

func TestBytesCopies(t *testing.T) {
	c := Bytes{}
	src := []byte("mutable")
	enc, err := c.Encode(src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	src[0] = 'X'
	if enc[0] == 'X' {
		t.Fatal("encode aliased the input slice")
	}

	dec, err := c.Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	enc[0] = 'Y'
	if dec[0] == 'Y' {
		t.Fatal("decode aliased the input slice")
	}
}

// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"bytes"
	"testing"
)

func TestHeaderGetSetAddDel(t *testing.T) {
	h := Header{}
	h.Set("Foo", "1")
	h.Add("Foo", "2")
	if got := h.Values("Foo"); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("unexpected values: %v", got)
	}
	if got := h.Get("Foo"); got != "1" {
		t.Fatalf("Get should return first value, got %q", got)
	}
	h.Del("Foo")
	if h.Get("Foo") != "" {
		t.Fatal("expected Foo to be removed")
	}
}

func TestDecodeHeadersMsgNoStatus(t *testing.T) {
	raw := []byte("NATS/1.0\r\nFoo: bar\r\nFoo: baz\r\n\r\n")
	h, err := decodeHeadersMsg(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.Values("Foo"); len(got) != 2 || got[0] != "bar" || got[1] != "baz" {
		t.Fatalf("unexpected values: %v", got)
	}
}

func TestDecodeHeadersMsgWithStatus(t *testing.T) {
	raw := []byte("NATS/1.0 503 No Responders\r\n\r\n")
	h, err := decodeHeadersMsg(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	code, ok := h.statusCode()
	if !ok || code != 503 {
		t.Fatalf("expected status 503, got (%d, %v)", code, ok)
	}
	if h.Get(descrHdr) != "No Responders" {
		t.Fatalf("expected description, got %q", h.Get(descrHdr))
	}
}

func TestDecodeHeadersMsgMalformed(t *testing.T) {
	if _, err := decodeHeadersMsg([]byte("garbage\r\n\r\n")); err == nil {
		t.Fatal("expected error for missing NATS/1.0 status line")
	}
	if _, err := decodeHeadersMsg([]byte("NATS/1.0\r\nnocolon\r\n\r\n")); err == nil {
		t.Fatal("expected error for header line without a colon")
	}
}

func TestEncodeDecodeHeadersRoundTrip(t *testing.T) {
	h := Header{}
	h.Set("X-One", "a")
	h.Add("X-Two", "b")
	h.Add("X-Two", "c")

	encoded := encodeHeadersMsg(h)
	decoded, err := decodeHeadersMsg(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Get("X-One") != "a" {
		t.Fatalf("round trip lost X-One: %v", decoded)
	}
	if vs := decoded.Values("X-Two"); len(vs) != 2 || vs[0] != "b" || vs[1] != "c" {
		t.Fatalf("round trip lost X-Two ordering: %v", vs)
	}
}

func TestEncodeHeadersMsgStatusLine(t *testing.T) {
	h := Header{}
	h.Set(statusHdr, "100")
	h.Set(descrHdr, "Idle Heartbeat")
	encoded := encodeHeadersMsg(h)
	if !bytes.HasPrefix(encoded, []byte("NATS/1.0 100 Idle Heartbeat\r\n")) {
		t.Fatalf("unexpected encoding: %q", encoded)
	}
}

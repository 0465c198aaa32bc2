package frame_test

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"demobroker/internal/frame"
)

func mustEncode(t *testing.T, msg frame.Message) []byte {
	t.Helper()
	data, err := frame.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func messages(t *testing.T, results []frame.Result) []frame.Message {
	t.Helper()
	out := make([]frame.Message, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("unexpected decode error: %v", res.Err)
		}
		out = append(out, res.Message)
	}
	return out
}

func TestEncodeAppendsSingleDelimiter(t *testing.T) {
	data := mustEncode(t, frame.Message{"shareCode": "line\nbreak"})
	if bytes.Count(data, []byte{frame.Delimiter}) != 1 {
		t.Fatalf("expected exactly one delimiter, got %q", data)
	}
	if data[len(data)-1] != frame.Delimiter {
		t.Fatalf("expected trailing delimiter, got %q", data)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []frame.Message{
		{"shareCode": "CSGO-ABCDE"},
		{"shareCode": "CSGO-ABCDE", "demoURL": "http://x/d.dem"},
		{"text": "multi\nline\r\nvalue", "unicode": "héllo ✓"},
		{},
	}
	for _, msg := range cases {
		dec := frame.NewDecoder(0)
		got := messages(t, dec.Feed(mustEncode(t, msg)))
		if len(got) != 1 {
			t.Fatalf("expected one message for %v, got %d", msg, len(got))
		}
		if !reflect.DeepEqual(got[0], msg) {
			t.Fatalf("round trip mismatch: got %#v want %#v", got[0], msg)
		}
	}
}

func TestFeedIsIndependentOfSplitPoints(t *testing.T) {
	m1 := frame.Message{"shareCode": "CSGO-AAAAA"}
	m2 := frame.Message{"shareCode": "CSGO-BBBBB", "demoURL": "http://x/b.dem"}
	stream := append(mustEncode(t, m1), mustEncode(t, m2)...)

	for i := 0; i <= len(stream); i++ {
		for j := i; j <= len(stream); j++ {
			dec := frame.NewDecoder(0)
			var results []frame.Result
			results = append(results, dec.Feed(stream[:i])...)
			results = append(results, dec.Feed(stream[i:j])...)
			results = append(results, dec.Feed(stream[j:])...)
			got := messages(t, results)
			if len(got) != 2 || !reflect.DeepEqual(got[0], m1) || !reflect.DeepEqual(got[1], m2) {
				t.Fatalf("split at %d/%d: got %#v", i, j, got)
			}
			if dec.Buffered() != 0 {
				t.Fatalf("split at %d/%d: %d bytes left buffered", i, j, dec.Buffered())
			}
		}
	}
}

func TestFeedByteAtATime(t *testing.T) {
	var stream []byte
	want := make([]frame.Message, 0, 5)
	for _, code := range []string{"A", "B", "C", "D", "E"} {
		msg := frame.Message{"shareCode": code}
		want = append(want, msg)
		stream = append(stream, mustEncode(t, msg)...)
	}
	dec := frame.NewDecoder(0)
	var results []frame.Result
	for _, b := range stream {
		results = append(results, dec.Feed([]byte{b})...)
	}
	if got := messages(t, results); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestMalformedFrameDoesNotCorruptNeighbours(t *testing.T) {
	good1 := mustEncode(t, frame.Message{"shareCode": "one"})
	good2 := mustEncode(t, frame.Message{"shareCode": "two"})
	stream := append([]byte{}, good1...)
	stream = append(stream, []byte("{not json\n")...)
	stream = append(stream, good2...)

	dec := frame.NewDecoder(0)
	results := dec.Feed(stream[:len(good1)+4])
	results = append(results, dec.Feed(stream[len(good1)+4:])...)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("expected good frames around the bad one: %#v", results)
	}
	var decErr *frame.DecodeError
	if !errors.As(results[1].Err, &decErr) {
		t.Fatalf("expected DecodeError, got %v", results[1].Err)
	}
	if string(decErr.Raw) != "{not json" {
		t.Fatalf("unexpected raw unit %q", decErr.Raw)
	}
	if v, _ := results[2].Message.String("shareCode"); v != "two" {
		t.Fatalf("unexpected trailing message %#v", results[2].Message)
	}
}

func TestNonObjectFramesAreDecodeErrors(t *testing.T) {
	dec := frame.NewDecoder(0)
	results := dec.Feed([]byte("null\n[1,2]\n\"str\"\n"))
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Err == nil {
			t.Fatalf("result %d: expected error", i)
		}
	}
}

func TestBlankLinesAreSkipped(t *testing.T) {
	dec := frame.NewDecoder(0)
	results := dec.Feed([]byte("\n\n  \n{\"a\":\"b\"}\n\n"))
	got := messages(t, results)
	if len(got) != 1 {
		t.Fatalf("expected a single message, got %#v", got)
	}
}

func TestOversizedFrameIsDroppedUntilNextDelimiter(t *testing.T) {
	dec := frame.NewDecoder(16)
	results := dec.Feed(bytes.Repeat([]byte("x"), 20))
	if len(results) != 1 || !errors.Is(results[0].Err, frame.ErrFrameTooLarge) {
		t.Fatalf("expected frame too large, got %#v", results)
	}
	results = dec.Feed([]byte("yyyy\n{\"k\":\"v\"}\n"))
	got := messages(t, results)
	if len(got) != 1 {
		t.Fatalf("expected decoder to recover after delimiter, got %#v", got)
	}
	if v, ok := got[0].String("k"); !ok || v != "v" {
		t.Fatalf("unexpected message %#v", got[0])
	}
}

func TestMessageString(t *testing.T) {
	msg := frame.Message{"s": "value", "n": 4.0, "empty": " "}
	if v, ok := msg.String("s"); !ok || v != "value" {
		t.Fatalf("expected string field, got %q %v", v, ok)
	}
	if _, ok := msg.String("n"); ok {
		t.Fatal("expected non-string field to be rejected")
	}
	if _, ok := msg.String("empty"); ok {
		t.Fatal("expected blank string to be rejected")
	}
	if _, ok := msg.String("missing"); ok {
		t.Fatal("expected missing field to be rejected")
	}
}

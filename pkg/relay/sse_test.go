package relay

import (
	"reflect"
	"testing"
)

func TestStreamExtractorBasic(t *testing.T) {
	e := newStreamExtractor()
	got := e.Consume([]byte("event: message\ndata: {\"a\":1}\n\ndata: [DONE]\n\n"))
	want := []string{`{"a":1}`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestStreamExtractorLineSplitAcrossChunks(t *testing.T) {
	e := newStreamExtractor()
	if got := e.Consume([]byte("data: {\"text\":\"hel")); got != nil {
		t.Fatalf("partial line yielded %v", got)
	}
	got := e.Consume([]byte("lo\"}\n"))
	want := []string{`{"text":"hello"}`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestStreamExtractorPrefixSplitAcrossChunks(t *testing.T) {
	e := newStreamExtractor()
	if got := e.Consume([]byte("da")); got != nil {
		t.Fatalf("partial prefix yielded %v", got)
	}
	got := e.Consume([]byte("ta: {\"b\":2}\n"))
	want := []string{`{"b":2}`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestStreamExtractorSkipsNoise(t *testing.T) {
	e := newStreamExtractor()
	in := ": keep-alive\n" +
		"event: ping\n" +
		"data:\n" +
		"data: [DONE]\n" +
		"id: 42\n" +
		"data: real\n"
	got := e.Consume([]byte(in))
	want := []string{"real"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestStreamExtractorCRLF(t *testing.T) {
	e := newStreamExtractor()
	got := e.Consume([]byte("data: {\"c\":3}\r\n\r\n"))
	want := []string{`{"c":3}`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestStreamExtractorEmptyChunk(t *testing.T) {
	e := newStreamExtractor()
	if got := e.Consume(nil); got != nil {
		t.Fatalf("empty chunk yielded %v", got)
	}
}

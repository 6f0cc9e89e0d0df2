package scrollback

import (
	"bytes"
	"strings"
	"testing"
)

func TestWritePreservesOrder(t *testing.T) {
	b := New(1024)
	chunks := []string{"one", "two", "three", "four"}
	for _, c := range chunks {
		b.Write([]byte(c))
	}
	want := strings.Join(chunks, "")
	if got := string(b.Contents()); got != want {
		t.Errorf("Contents() = %q, want %q", got, want)
	}
}

func TestWriteCopiesChunk(t *testing.T) {
	b := New(1024)
	chunk := []byte("hello")
	b.Write(chunk)
	chunk[0] = 'X'
	if got := string(b.Contents()); got != "hello" {
		t.Errorf("Contents() = %q after caller mutated chunk, want %q", got, "hello")
	}
}

func TestEvictsOldestWholeChunks(t *testing.T) {
	b := New(10)
	b.Write([]byte("aaaa")) // 4
	b.Write([]byte("bbbb")) // 8
	b.Write([]byte("cccc")) // 12 > 10, evicts "aaaa"
	if got := string(b.Contents()); got != "bbbbcccc" {
		t.Errorf("Contents() = %q, want %q", got, "bbbbcccc")
	}
	if b.Len() != 8 {
		t.Errorf("Len() = %d, want 8", b.Len())
	}
}

func TestOverCapByAtMostNewestChunk(t *testing.T) {
	b := New(10)
	b.Write([]byte("aaaaaaaa"))
	b.Write([]byte("bbbbbbbb"))
	// After eviction only the newest chunk may keep us over cap.
	if b.Len() > 10+8 {
		t.Errorf("Len() = %d, exceeds cap by more than newest chunk", b.Len())
	}
	if got := string(b.Contents()); got != "bbbbbbbb" {
		t.Errorf("Contents() = %q, want %q", got, "bbbbbbbb")
	}
}

func TestRetainsSingleOversizedChunk(t *testing.T) {
	b := New(4)
	big := bytes.Repeat([]byte("x"), 64)
	b.Write(big)
	if !bytes.Equal(b.Contents(), big) {
		t.Error("oversized chunk was not retained in full")
	}
	b.Write([]byte("yy"))
	if got := string(b.Contents()); got != "yy" {
		t.Errorf("Contents() = %q, want %q (oversized chunk evicted by successor)", got, "yy")
	}
}

func TestEmptyWriteIgnored(t *testing.T) {
	b := New(16)
	b.Write(nil)
	b.Write([]byte{})
	if b.Len() != 0 {
		t.Errorf("Len() = %d after empty writes, want 0", b.Len())
	}
}

func TestClear(t *testing.T) {
	b := New(16)
	b.Write([]byte("data"))
	b.Clear()
	if b.Len() != 0 || len(b.Contents()) != 0 {
		t.Error("Clear() did not empty the buffer")
	}
}

func TestDefaultCap(t *testing.T) {
	b := New(0)
	if b.cap != DefaultCap {
		t.Errorf("cap = %d, want %d", b.cap, DefaultCap)
	}
}

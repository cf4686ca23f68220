package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReaderSource_Chunks(t *testing.T) {
	content := strings.Repeat("x", readerChunkSize+100)
	src := ReaderSource(strings.NewReader(content))

	var got bytes.Buffer
	for {
		chunk, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got.Write(chunk)
	}

	if got.String() != content {
		t.Errorf("reassembled %d bytes, want %d", got.Len(), len(content))
	}
}

// drip yields at most 5 bytes per read so ReaderSource produces multiple
// chunks from its reused internal buffer.
type drip struct {
	data []byte
	off  int
}

func (d *drip) Read(p []byte) (int, error) {
	if d.off >= len(d.data) {
		return 0, io.EOF
	}
	n := copy(p[:min(len(p), 5)], d.data[d.off:])
	d.off += n
	return n, nil
}

func TestReaderSource_ChunksStayValid(t *testing.T) {
	src := ReaderSource(&drip{data: []byte("firstsecond")})

	first, err := src.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	snapshot := string(first)

	if _, err := src.Next(context.Background()); err != nil {
		t.Fatal(err)
	}
	if string(first) != snapshot {
		t.Error("earlier chunk was clobbered by a later pull")
	}
}

func TestReaderSource_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := ReaderSource(strings.NewReader("data"))
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSourceFunc(t *testing.T) {
	called := false
	src := SourceFunc(func(context.Context) ([]byte, error) {
		called = true
		return nil, io.EOF
	})
	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("adapter did not invoke the function")
	}
}

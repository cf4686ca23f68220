package relay

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"testing"
)

// fakeConn is an in-memory duplex connection: writes are recorded, reads
// serve a canned daemon response.
type fakeConn struct {
	written  bytes.Buffer
	response *bytes.Reader
	failAt   int // fail the Nth write (1-based); 0 = never
	writes   int
}

func newFakeConn(response string) *fakeConn {
	return &fakeConn{response: bytes.NewReader([]byte(response))}
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writes++
	if c.failAt > 0 && c.writes >= c.failAt {
		return 0, errors.New("broken pipe")
	}
	return c.written.Write(p)
}

func (c *fakeConn) Read(p []byte) (int, error) {
	return c.response.Read(p)
}

// sliceSource yields the given chunks in order, then err (io.EOF for a
// normal end of stream).
type sliceSource struct {
	chunks [][]byte
	err    error
	i      int
}

func (s *sliceSource) Next(_ context.Context) ([]byte, error) {
	if s.i < len(s.chunks) {
		c := s.chunks[s.i]
		s.i++
		return c, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func chunks(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

// frame builds the expected wire bytes: 4-byte big-endian length + payload.
func frame(payload string) []byte {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	return append(prefix[:], payload...)
}

func drain(t *testing.T, r *Relay) ([][]byte, error) {
	t.Helper()
	var got [][]byte
	for {
		chunk, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return got, nil
		}
		if err != nil {
			return got, err
		}
		got = append(got, chunk)
	}
}

func TestNext_CleanPassthrough(t *testing.T) {
	conn := newFakeConn("stream: OK\x00")
	r := New(&sliceSource{chunks: chunks("Hello ", "World")}, conn)

	got, err := drain(t, r)
	if err != nil {
		t.Fatalf("expected clean end, got error: %v", err)
	}
	if len(got) != 2 || string(got[0]) != "Hello " || string(got[1]) != "World" {
		t.Fatalf("chunks altered: %q", got)
	}

	want := append([]byte("zINSTREAM\x00"), frame("Hello ")...)
	want = append(want, frame("World")...)
	want = append(want, 0, 0, 0, 0)
	if !bytes.Equal(conn.written.Bytes(), want) {
		t.Errorf("wire bytes mismatch:\n got %q\nwant %q", conn.written.Bytes(), want)
	}
}

func TestNext_InfectedVerdict(t *testing.T) {
	const response = "stream: Eicar-Signature FOUND\x00"
	conn := newFakeConn(response)
	r := New(&sliceSource{chunks: chunks("Hello ", "World")}, conn)

	got, err := drain(t, r)
	if len(got) != 2 || string(got[0]) != "Hello " || string(got[1]) != "World" {
		t.Fatalf("chunks altered: %q", got)
	}

	var scanErr *ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("expected *ScanError, got %v", err)
	}
	if scanErr.Response != response {
		t.Errorf("verdict message = %q, want %q", scanErr.Response, response)
	}

	// The verdict is terminal: the relay reports exhaustion afterwards.
	if _, err := r.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after verdict, got %v", err)
	}
}

func TestNext_SubChunkFraming(t *testing.T) {
	big := bytes.Repeat([]byte("a"), 2*subChunkSize+1808)
	conn := newFakeConn("stream: OK\x00")
	r := New(&sliceSource{chunks: [][]byte{big}}, conn)

	got, err := drain(t, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], big) {
		t.Fatal("oversized chunk must be yielded unsplit")
	}

	want := []byte("zINSTREAM\x00")
	for _, size := range []int{subChunkSize, subChunkSize, 1808} {
		want = append(want, frame(string(big[:size]))...)
	}
	want = append(want, 0, 0, 0, 0)
	if !bytes.Equal(conn.written.Bytes(), want) {
		t.Errorf("framing mismatch: got %d wire bytes, want %d", conn.written.Len(), len(want))
	}
}

func TestNext_SingleDialogue(t *testing.T) {
	conn := newFakeConn("stream: OK\x00")
	r := New(&sliceSource{chunks: chunks("data")}, conn)

	if _, err := drain(t, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wireLen := conn.written.Len()

	// Repeated polls after completion must not re-run the dialogue.
	for i := 0; i < 3; i++ {
		if _, err := r.Next(context.Background()); !errors.Is(err, io.EOF) {
			t.Fatalf("poll %d: expected io.EOF, got %v", i, err)
		}
	}
	if conn.written.Len() != wireLen {
		t.Error("extra bytes written after completion")
	}
}

func TestNext_UpstreamErrorShortCircuit(t *testing.T) {
	cause := errors.New("disk read failed")
	conn := newFakeConn("stream: OK\x00")
	r := New(&sliceSource{chunks: chunks("c1", "c2"), err: cause}, conn)

	got, err := drain(t, r)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks before the error, got %d", len(got))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped upstream error, got %v", err)
	}

	// No terminator: the dialogue is abandoned mid-stream.
	if bytes.HasSuffix(conn.written.Bytes(), []byte{0, 0, 0, 0}) {
		t.Error("terminator must not be sent on upstream failure")
	}
	if _, err := r.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after upstream error, got %v", err)
	}
}

func TestNext_EmptyUpstream(t *testing.T) {
	conn := newFakeConn("stream: OK\x00")
	r := New(&sliceSource{}, conn)

	got, err := drain(t, r)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty clean stream, got %q, %v", got, err)
	}

	// Even with zero chunks the daemon sees a complete dialogue.
	want := append([]byte("zINSTREAM\x00"), 0, 0, 0, 0)
	if !bytes.Equal(conn.written.Bytes(), want) {
		t.Errorf("wire bytes = %q, want preamble+terminator", conn.written.Bytes())
	}
}

func TestNext_WriteFailure(t *testing.T) {
	conn := newFakeConn("")
	conn.failAt = 2 // preamble succeeds, first length prefix fails
	r := New(&sliceSource{chunks: chunks("data")}, conn)

	_, err := r.Next(context.Background())
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, err := r.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after transport failure, got %v", err)
	}
}

func TestNext_InvalidUTF8Response(t *testing.T) {
	conn := &fakeConn{response: bytes.NewReader([]byte{0xff, 0xfe, 0xfd})}
	r := New(&sliceSource{chunks: chunks("data")}, conn)

	_, err := drain(t, r)
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected *ResponseError, got %v", err)
	}
	if len(respErr.Raw()) != 3 {
		t.Errorf("raw response = %v, want the 3 undecodable bytes", respErr.Raw())
	}
}

func TestRun_CopiesAndClassifies(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  bool
	}{
		{"clean", "stream: OK\x00", false},
		{"infected", "stream: Eicar-Signature FOUND\x00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn(tt.response)
			r := New(&sliceSource{chunks: chunks("Hello ", "World")}, conn)

			var out bytes.Buffer
			err := r.Run(context.Background(), &out)

			if out.String() != "Hello World" {
				t.Errorf("passthrough output = %q, want %q", out.String(), "Hello World")
			}
			var scanErr *ScanError
			if tt.wantErr {
				if !errors.As(err, &scanErr) {
					t.Errorf("expected *ScanError, got %v", err)
				}
			} else if err != nil {
				t.Errorf("expected nil, got %v", err)
			}
		})
	}
}

func TestRun_NilDestination(t *testing.T) {
	conn := newFakeConn("stream: OK\x00")
	r := New(&sliceSource{chunks: chunks("discarded")}, conn)
	if err := r.Run(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRun_DestinationWriteFailure(t *testing.T) {
	conn := newFakeConn("stream: OK\x00")
	r := New(&sliceSource{chunks: chunks("data")}, conn)
	err := r.Run(context.Background(), failWriter{})
	if err == nil {
		t.Fatal("expected copy error")
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, fmt.Errorf("consumer gone") }

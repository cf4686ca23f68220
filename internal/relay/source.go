package relay

import (
	"context"
	"io"
)

// Source is the upstream chunk producer consumed by a Relay. Next returns
// the next chunk of the stream, io.EOF after the final chunk, or a producer
// error. A Source must not be pulled concurrently from elsewhere while a
// Relay holds it.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]byte, error)

func (f SourceFunc) Next(ctx context.Context) ([]byte, error) { return f(ctx) }

const readerChunkSize = 32 * 1024

// ReaderSource adapts an io.Reader into a Source. Each Next performs one
// read of up to 32 KiB and returns a copy, so the chunk stays valid after
// the next pull.
func ReaderSource(r io.Reader) Source {
	return &readerSource{r: r, buf: make([]byte, readerChunkSize)}
}

type readerSource struct {
	r   io.Reader
	buf []byte
}

func (s *readerSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for {
		n, err := s.r.Read(s.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			return chunk, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

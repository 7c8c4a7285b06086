// Package stream feeds time-windowed batches of integer items from a stream
// source into the count sketch, enforcing the stop condition and keeping the
// sketch and the exact table in lockstep.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// Source delivers bounded batches of raw items. NextBatch returns io.EOF
// once the source is drained; an empty batch is a valid result for a window
// in which nothing arrived.
type Source interface {
	NextBatch(ctx context.Context) ([]int64, error)
}

// SliceSource replays pre-built batches. Used by tests and benchmarks.
type SliceSource struct {
	batches [][]int64
	next    int
}

func NewSliceSource(batches ...[]int64) *SliceSource {
	return &SliceSource{batches: batches}
}

func (s *SliceSource) NextBatch(ctx context.Context) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.batches) {
		return nil, io.EOF
	}
	b := s.batches[s.next]
	s.next++
	return b, nil
}

// Consumed reports how many batches were handed out.
func (s *SliceSource) Consumed() int { return s.next }

// SocketSource reads newline-delimited integers from a TCP connection and
// windows them into batches of the configured duration. Lines that do not
// parse as integers are dropped.
type SocketSource struct {
	conn   net.Conn
	window time.Duration
	lines  chan int64
	errc   chan error
}

// DialSocket connects to a text stream source at addr.
func DialSocket(addr string, window time.Duration) (*SocketSource, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", addr, err)
	}
	return NewSocketSource(conn, window), nil
}

// NewSocketSource wraps an established connection. The source owns the
// connection and starts reading immediately.
func NewSocketSource(conn net.Conn, window time.Duration) *SocketSource {
	s := &SocketSource{
		conn:   conn,
		window: window,
		lines:  make(chan int64, 4096),
		errc:   make(chan error, 1),
	}
	go s.readLoop()
	return s
}

func (s *SocketSource) readLoop() {
	sc := bufio.NewScanner(s.conn)
	for sc.Scan() {
		v, err := strconv.ParseInt(strings.TrimSpace(sc.Text()), 10, 64)
		if err != nil {
			continue
		}
		s.lines <- v
	}
	if err := sc.Err(); err != nil {
		s.errc <- err
	}
	close(s.lines)
}

// NextBatch collects items until the window elapses or the connection ends.
func (s *SocketSource) NextBatch(ctx context.Context) ([]int64, error) {
	timer := time.NewTimer(s.window)
	defer timer.Stop()

	var batch []int64
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return batch, nil
		case v, ok := <-s.lines:
			if !ok {
				if len(batch) > 0 {
					return batch, nil
				}
				select {
				case err := <-s.errc:
					return nil, err
				default:
					return nil, io.EOF
				}
			}
			batch = append(batch, v)
		}
	}
}

// Close tears down the underlying connection, unblocking the read loop.
func (s *SocketSource) Close() error { return s.conn.Close() }

package session

import (
	"context"
	"sync"

	"github.com/oranet/oranet/internal/tnsio"
)

// Row is one decoded row, column values in positional order.
type Row struct {
	Columns []tnsio.ColumnValue
}

// RowStream is a demand-driven row buffer between the connection's single
// I/O goroutine (the producer, decoding RowData messages off the wire) and
// the statement's caller (the consumer, pulling rows via Next). Per §5's
// backpressure invariant: once the buffer reaches capacity, pushRow blocks
// the I/O goroutine — which is also the goroutine draining the transport —
// so an inattentive consumer throttles the connection rather than letting
// the driver buffer unboundedly.
type RowStream struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf      []Row
	capacity int

	eof    bool
	err    error
	closed bool // consumer gave up early (Close before EOF)

	// requestMore is invoked once Next leaves fewer than capacity/2 rows
	// buffered and more rows might be available; it submits the next
	// Fetch task. nil for streams with no further fetch (last batch).
	requestMore func() error
	fetchPending bool

	// onStall, if set, is invoked once each time pushRow must block because
	// the buffer is at capacity — the row producer observing its own
	// backpressure invariant in action.
	onStall func()
}

func newRowStream(capacity int, requestMore func() error) *RowStream {
	rs := &RowStream{capacity: capacity, requestMore: requestMore}
	rs.cond = sync.NewCond(&rs.mu)
	return rs
}

// pushRow is called by the connection's read loop for each decoded row. It
// blocks while the buffer is full, and returns false once the consumer has
// closed the stream early — the caller should stop decoding further rows
// for this cursor and fold in a cursor-close piggyback instead.
func (rs *RowStream) pushRow(r Row) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.buf) >= rs.capacity && !rs.closed && rs.onStall != nil {
		rs.onStall()
	}
	for len(rs.buf) >= rs.capacity && !rs.closed {
		rs.cond.Wait()
	}
	if rs.closed {
		return false
	}
	rs.buf = append(rs.buf, r)
	rs.cond.Signal()
	return true
}

// finish marks the stream complete, with err set only on failure (nil on a
// clean end-of-fetch).
func (rs *RowStream) finish(err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.eof = true
	rs.err = err
	rs.cond.Broadcast()
}

// Next blocks until a row is available, the stream reaches end-of-fetch, or
// ctx is canceled. ok is false once the stream is exhausted; check err to
// distinguish a clean end from a failure.
func (rs *RowStream) Next(ctx context.Context) (row Row, ok bool, err error) {
	rs.mu.Lock()
	for len(rs.buf) == 0 && !rs.eof {
		if ctx.Err() != nil {
			rs.mu.Unlock()
			return Row{}, false, ctx.Err()
		}
		rs.cond.Wait()
	}
	if len(rs.buf) == 0 {
		rs.mu.Unlock()
		return Row{}, false, rs.err
	}
	row = rs.buf[0]
	rs.buf = rs.buf[1:]
	belowWatermark := len(rs.buf) < rs.capacity/2
	needsMore := belowWatermark && !rs.eof && !rs.fetchPending && rs.requestMore != nil
	if needsMore {
		rs.fetchPending = true
	}
	rs.cond.Signal() // room freed for a blocked pushRow
	rs.mu.Unlock()

	if needsMore {
		// Dispatched on its own goroutine: requestMore's pushRow calls
		// block until this consumer drains the buffer further, so running
		// it inline here (on the consumer's own goroutine) would deadlock.
		go func() {
			if ferr := rs.requestMore(); ferr != nil {
				rs.finish(ferr)
			}
			rs.mu.Lock()
			rs.fetchPending = false
			rs.mu.Unlock()
		}()
	}
	return row, true, nil
}

// Close tells the producer to stop delivering further rows. Any blocked
// pushRow call returns false immediately.
func (rs *RowStream) Close() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.closed = true
	rs.cond.Broadcast()
}

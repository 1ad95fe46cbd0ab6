package session

import (
	"context"
	"fmt"
	"time"

	"github.com/oranet/oranet/internal/protocol"
	"github.com/oranet/oranet/internal/tnsio"
)

// StatementError is a non-zero ORA error returned in response to a
// statement request. Unlike AuthenticationError or a transport failure,
// receiving one does not move the connection to StateError — the
// connection returns to StateReadyForStatement and remains usable, per §7.
type StatementError struct {
	Code        uint16
	Message     string
	BatchErrors []protocol.BatchError
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("session: ORA-%05d: %s", e.Code, e.Message)
}

// StatementResult is the outcome of Execute: a describe-info column list
// (for queries) and a backpressured stream over whatever rows were
// prefetched plus whatever Fetch later retrieves.
type StatementResult struct {
	CursorID     uint32
	Columns      []protocol.Column
	Rows         *RowStream
	RowsAffected uint64
}

// Execute submits sql with its bind values to the server and returns once
// the initial response burst (describe info, prefetched rows, and/or a
// DML row count) has been fully read. Further rows, if any, are pulled on
// demand through StatementResult.Rows. Execute enqueues an oracleTask and
// waits for the connection's dispatcher to run it in its turn, per §5.
func (c *Conn) Execute(ctx context.Context, sql string, binds []protocol.Bind, opts protocol.ExecuteOptions) (*StatementResult, error) {
	if opts.FetchArraySize == 0 {
		opts.FetchArraySize = c.opts.FetchArraySize
	}

	var result *StatementResult
	start := time.Now()
	err := c.submit(ctx, taskExecute, func(c *Conn) error {
		if err := c.transition(EventStatementSubmitted); err != nil {
			return err
		}

		cursorID := c.nextCursorID()
		w := tnsio.NewWriter(256 + len(sql))
		c.encodePiggybacks(w)
		if err := protocol.EncodeExecute(w, sql, cursorID, opts, binds, true); err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: encoding execute: %w", err)
		}
		if err := c.writeData(w.Bytes(), uint16(tnsio.DataFlagEOF)); err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: sending execute: %w", err)
		}

		msgs, err := c.readMessages(ctx)
		if err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: reading execute response: %w", err)
		}

		r := &StatementResult{CursorID: cursorID}
		var stmtErr error
		moreRows := true
		rowCount := 0

		for _, m := range msgs {
			switch m.Kind {
			case protocol.MsgDescribeInfo:
				r.Columns = m.DescribeInfo.Columns
			case protocol.MsgRowData:
				if r.Rows == nil {
					r.Rows = newRowStream(int(opts.FetchArraySize), nil)
					r.Rows.requestMore = c.makeFetchMore(cursorID, opts.FetchArraySize, r.Rows)
					if c.opts.Metrics != nil {
						r.Rows.onStall = c.opts.Metrics.BackpressureStall
					}
				}
				r.Rows.pushRow(Row{Columns: m.RowData.Columns})
				rowCount++
			case protocol.MsgStatus:
				r.RowsAffected = uint64(m.Status.CallStatus)
			case protocol.MsgError:
				if m.Error.Code == protocol.OracleNoDataFound {
					moreRows = false
				} else if m.Error.Code != 0 && !m.Error.IsWarning {
					stmtErr = &StatementError{Code: m.Error.Code, Message: m.Error.Message, BatchErrors: m.Error.BatchErrors}
				}
			}
		}

		if r.Rows != nil && !moreRows {
			r.Rows.finish(nil)
		}
		result = r
		if c.opts.Metrics != nil {
			c.opts.Metrics.FetchRoundTrip()
			if rowCount > 0 {
				c.opts.Metrics.RowsFetched(rowCount)
			}
		}

		if err := c.transition(EventStatementCompleted); err != nil {
			return err
		}
		return stmtErr
	})
	if c.opts.Metrics != nil {
		c.opts.Metrics.StatementCompleted(time.Since(start))
		if serr, ok := err.(*StatementError); ok {
			c.opts.Metrics.StatementError(serr.Code)
		}
	}
	return result, err
}

// Reexecute reruns an already-parsed cursor (identified by the CursorID
// from a prior Execute's StatementResult) with fresh bind values,
// resending only the binds rather than the statement text and describe
// metadata — the fast path a driver takes when the same statement is run
// repeatedly with different parameters. columns is carried over from the
// original Execute's result since a re-execute response has no describe
// info of its own.
func (c *Conn) Reexecute(ctx context.Context, cursorID uint32, columns []protocol.Column, binds []protocol.Bind, opts protocol.ExecuteOptions) (*StatementResult, error) {
	if opts.FetchArraySize == 0 {
		opts.FetchArraySize = c.opts.FetchArraySize
	}

	var result *StatementResult
	start := time.Now()
	err := c.submit(ctx, taskExecute, func(c *Conn) error {
		if err := c.transition(EventStatementSubmitted); err != nil {
			return err
		}

		w := tnsio.NewWriter(128)
		c.encodePiggybacks(w)
		if err := protocol.EncodeReExecute(w, cursorID, opts, binds); err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: encoding re-execute: %w", err)
		}
		if err := c.writeData(w.Bytes(), uint16(tnsio.DataFlagEOF)); err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: sending re-execute: %w", err)
		}

		msgs, err := c.readMessages(ctx)
		if err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: reading re-execute response: %w", err)
		}

		r := &StatementResult{CursorID: cursorID, Columns: columns}
		var stmtErr error
		moreRows := true
		rowCount := 0

		for _, m := range msgs {
			switch m.Kind {
			case protocol.MsgRowData:
				if r.Rows == nil {
					r.Rows = newRowStream(int(opts.FetchArraySize), nil)
					r.Rows.requestMore = c.makeFetchMore(cursorID, opts.FetchArraySize, r.Rows)
					if c.opts.Metrics != nil {
						r.Rows.onStall = c.opts.Metrics.BackpressureStall
					}
				}
				r.Rows.pushRow(Row{Columns: m.RowData.Columns})
				rowCount++
			case protocol.MsgStatus:
				r.RowsAffected = uint64(m.Status.CallStatus)
			case protocol.MsgError:
				if m.Error.Code == protocol.OracleNoDataFound {
					moreRows = false
				} else if m.Error.Code != 0 && !m.Error.IsWarning {
					stmtErr = &StatementError{Code: m.Error.Code, Message: m.Error.Message, BatchErrors: m.Error.BatchErrors}
				}
			}
		}

		if r.Rows != nil && !moreRows {
			r.Rows.finish(nil)
		}
		result = r
		if c.opts.Metrics != nil {
			c.opts.Metrics.FetchRoundTrip()
			if rowCount > 0 {
				c.opts.Metrics.RowsFetched(rowCount)
			}
		}

		if err := c.transition(EventStatementCompleted); err != nil {
			return err
		}
		return stmtErr
	})
	if c.opts.Metrics != nil {
		c.opts.Metrics.StatementCompleted(time.Since(start))
		if serr, ok := err.(*StatementError); ok {
			c.opts.Metrics.StatementError(serr.Code)
		}
	}
	return result, err
}

// makeFetchMore returns the RowStream.requestMore callback bound to a
// specific cursor: issuing a Fetch request and feeding its rows back into
// the same stream that triggered it.
func (c *Conn) makeFetchMore(cursorID uint32, count uint32, stream *RowStream) func() error {
	return func() error {
		return c.fetchInto(context.Background(), cursorID, count, stream)
	}
}

// fetchInto performs one Fetch round-trip and pushes the resulting rows
// into the cursor's RowStream, finishing the stream once the server
// signals end-of-fetch (ORA-01403) or a fatal error. It is invoked by the
// consumer side of RowStream.Next, which submits it as a task like any
// other request so it takes its place in the connection's FIFO order
// rather than racing a concurrently-submitted Execute/Commit.
func (c *Conn) fetchInto(ctx context.Context, cursorID uint32, count uint32, stream *RowStream) error {
	return c.submit(ctx, taskFetch, func(c *Conn) error {
		if err := c.transition(EventStatementSubmitted); err != nil {
			return err
		}

		w := tnsio.NewWriter(64)
		c.encodePiggybacks(w)
		protocol.EncodeFetch(w, cursorID, count)
		if err := c.writeData(w.Bytes(), uint16(tnsio.DataFlagEOF)); err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: sending fetch: %w", err)
		}

		msgs, err := c.readMessages(ctx)
		if err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: reading fetch response: %w", err)
		}
		c.transition(EventStatementCompleted)

		moreRows := true
		rowCount := 0
		for _, m := range msgs {
			switch m.Kind {
			case protocol.MsgRowData:
				if !stream.pushRow(Row{Columns: m.RowData.Columns}) {
					// Consumer closed the stream early; fold a cursor-close
					// into the next request instead of draining further.
					c.queueCursorClose(cursorID)
					return nil
				}
				rowCount++
			case protocol.MsgError:
				if m.Error.Code == protocol.OracleNoDataFound {
					moreRows = false
				} else if m.Error.Code != 0 && !m.Error.IsWarning {
					stream.finish(&StatementError{Code: m.Error.Code, Message: m.Error.Message, BatchErrors: m.Error.BatchErrors})
					return nil
				}
			}
		}
		if !moreRows {
			stream.finish(nil)
		}
		if c.opts.Metrics != nil {
			c.opts.Metrics.FetchRoundTrip()
			if rowCount > 0 {
				c.opts.Metrics.RowsFetched(rowCount)
			}
		}
		return nil
	})
}

// Commit sends a Commit request and waits for acknowledgement.
func (c *Conn) Commit(ctx context.Context) error {
	return c.simpleCall(ctx, taskCommit, func(w *tnsio.Writer) { protocol.EncodeCommit(w) })
}

// Rollback sends a Rollback request and waits for acknowledgement.
func (c *Conn) Rollback(ctx context.Context) error {
	return c.simpleCall(ctx, taskRollback, func(w *tnsio.Writer) { protocol.EncodeRollback(w) })
}

// Ping sends a keep-alive Ping request, used by pool health checks.
func (c *Conn) Ping(ctx context.Context) error {
	return c.simpleCall(ctx, taskPing, func(w *tnsio.Writer) { protocol.EncodePing(w) })
}

// simpleCall is the shared shape for requests with no row data in their
// response: submit a task that encodes, sends, reads the burst, and
// surfaces the first fatal error (if any) without disturbing the
// connection's ready state.
func (c *Conn) simpleCall(ctx context.Context, kind taskKind, encode func(w *tnsio.Writer)) error {
	return c.submit(ctx, kind, func(c *Conn) error {
		if err := c.transition(EventStatementSubmitted); err != nil {
			return err
		}

		w := tnsio.NewWriter(32)
		c.encodePiggybacks(w)
		encode(w)
		if err := c.writeData(w.Bytes(), uint16(tnsio.DataFlagEOF)); err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: sending request: %w", err)
		}

		msgs, err := c.readMessages(ctx)
		if err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: reading response: %w", err)
		}
		if err := c.transition(EventStatementCompleted); err != nil {
			return err
		}
		for _, m := range msgs {
			if m.Kind == protocol.MsgError && m.Error != nil && !m.Error.IsWarning && m.Error.Code != 0 {
				return &StatementError{Code: m.Error.Code, Message: m.Error.Message, BatchErrors: m.Error.BatchErrors}
			}
		}
		return nil
	})
}

// encodePiggybacks folds any queued cursor-close requests onto the front
// of the message being built, per §4.4.
func (c *Conn) encodePiggybacks(w *tnsio.Writer) {
	if ids := c.takePendingCursorCloses(); len(ids) > 0 {
		protocol.EncodeCloseCursors(w, ids)
	}
}

// CloseCursor queues a cursor for piggybacked closure on the connection's
// next outbound request, rather than spending a dedicated round-trip.
func (c *Conn) CloseCursor(cursorID uint32) {
	c.queueCursorClose(cursorID)
}

package session

import (
	"context"
	"fmt"

	"github.com/oranet/oranet/internal/protocol"
	"github.com/oranet/oranet/internal/tnsio"
)

// lobReadChunkSize bounds how much data one LobOp read request asks the
// server for at a time.
const lobReadChunkSize = 64 * 1024

// ReadLob retrieves the full contents addressed by locator — the raw
// column value of a BLOB/CLOB row — by issuing repeated LobOp read
// requests and assembling the lob_data chunks the server streams back,
// per §4.6. Each request picks up where the previous chunk left off; the
// server signals completion with a final zero-length chunk.
func (c *Conn) ReadLob(ctx context.Context, locator []byte) ([]byte, error) {
	var out []byte
	offset := uint64(0)
	for {
		chunk, final, err := c.lobOpRead(ctx, locator, offset, lobReadChunkSize)
		out = append(out, chunk...)
		if err != nil {
			return out, err
		}
		offset += uint64(len(chunk))
		if final {
			return out, nil
		}
	}
}

// WriteLob writes data to the LOB addressed by locator at offset, via a
// single LobOp write request. Large payloads are expected to be split by
// the caller into offset-advancing calls, mirroring how ReadLob advances
// its own offset across requests.
func (c *Conn) WriteLob(ctx context.Context, locator []byte, offset uint64, data []byte) error {
	return c.submit(ctx, taskLobOp, func(c *Conn) error {
		if err := c.transition(EventStatementSubmitted); err != nil {
			return err
		}

		w := tnsio.NewWriter(64 + len(locator) + len(data))
		c.encodePiggybacks(w)
		if err := protocol.EncodeLobOp(w, locator, offset, uint64(len(data)), protocol.LobOpWrite, data); err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: encoding lob write: %w", err)
		}
		if err := c.writeData(w.Bytes(), uint16(tnsio.DataFlagEOF)); err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: sending lob write: %w", err)
		}

		msgs, err := c.readMessages(ctx)
		if err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: reading lob write response: %w", err)
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

// lobOpRead performs one LobOp read round trip, returning the data chunk
// it produced (if any), whether the server signalled end-of-lob with its
// final zero-length chunk, and any fatal error.
func (c *Conn) lobOpRead(ctx context.Context, locator []byte, offset, amount uint64) ([]byte, bool, error) {
	var chunk []byte
	var final bool

	err := c.submit(ctx, taskLobOp, func(c *Conn) error {
		if err := c.transition(EventStatementSubmitted); err != nil {
			return err
		}

		w := tnsio.NewWriter(64 + len(locator))
		c.encodePiggybacks(w)
		if err := protocol.EncodeLobOp(w, locator, offset, amount, protocol.LobOpRead, nil); err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: encoding lob read: %w", err)
		}
		if err := c.writeData(w.Bytes(), uint16(tnsio.DataFlagEOF)); err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: sending lob read: %w", err)
		}

		msgs, err := c.readMessages(ctx)
		if err != nil {
			c.transition(EventFatalError)
			return fmt.Errorf("session: reading lob read response: %w", err)
		}
		if err := c.transition(EventStatementCompleted); err != nil {
			return err
		}

		for _, m := range msgs {
			switch m.Kind {
			case protocol.MsgLOBData:
				if m.LobData.Final {
					final = true
				} else {
					chunk = append(chunk, m.LobData.Data...)
				}
			case protocol.MsgError:
				if m.Error.Code != 0 && !m.Error.IsWarning {
					return &StatementError{Code: m.Error.Code, Message: m.Error.Message, BatchErrors: m.Error.BatchErrors}
				}
			}
		}
		return nil
	})
	return chunk, final, err
}

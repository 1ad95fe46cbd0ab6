package session

import (
	"context"
	"fmt"

	"github.com/oranet/oranet/internal/protocol"
	"github.com/oranet/oranet/internal/tnsio"
)

// Break sends an out-of-band Break marker, asking the server to abort
// whatever statement is currently executing. Unlike every other outbound
// request, Break bypasses the task queue entirely: it is meant to be
// called from a different goroutine than the one whose task is in flight,
// so it writes directly to the socket while the dispatcher is parked in a
// Read, per §5's cancellation design.
func (c *Conn) Break(ctx context.Context) error {
	payload := protocol.EncodeMarker(protocol.MarkerBreak)
	framed := c.framer.EncodeSimple(tnsio.PacketTypeMarker, 0, payload)
	if err := c.writeRaw(framed); err != nil {
		return fmt.Errorf("session: sending break marker: %w", err)
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.BreakSent()
	}
	return nil
}

// Reset resynchronizes the connection after a Break: it sends a Reset
// marker and drains packets until the server's own Reset marker is
// observed, discarding anything left over from the interrupted call. Like
// any other request it is submitted as a task, so the dispatcher only
// runs it once the interrupted Execute/Fetch/simpleCall has actually
// returned from its own turn at the front of the queue.
func (c *Conn) Reset(ctx context.Context) error {
	return c.submit(ctx, taskReset, func(c *Conn) error {
		payload := protocol.EncodeMarker(protocol.MarkerReset)
		framed := c.framer.EncodeSimple(tnsio.PacketTypeMarker, 0, payload)
		if err := c.writeRaw(framed); err != nil {
			return fmt.Errorf("session: sending reset marker: %w", err)
		}

		for {
			pkt, err := c.readPacket(ctx)
			if err != nil {
				return fmt.Errorf("session: awaiting reset marker echo: %w", err)
			}
			if pkt.Type == tnsio.PacketTypeMarker && len(pkt.Payload) >= 3 && pkt.Payload[2] == byte(protocol.MarkerReset) {
				return nil
			}
			// Data or a non-Reset marker left over from the interrupted
			// call: discard it and keep draining until the reset marker
			// comes back.
		}
	})
}

// Package session implements the connection lifecycle state machine (§5):
// the handshake and two-phase authentication drivers, the FIFO task queue
// that serializes statement execution, Marker-based cancellation, and
// backpressured row streaming, all on top of internal/tnsio and
// internal/protocol.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/oranet/oranet/internal/metrics"
	"github.com/oranet/oranet/internal/protocol"
	"github.com/oranet/oranet/internal/tnsio"
)

// DialOptions controls the handshake beyond the authentication context.
type DialOptions struct {
	ConnectTimeout time.Duration
	DriverName     string // sent in the Protocol message; defaults to "oranet"

	CompileCapabilities []byte
	RuntimeCapabilities []byte
	CharsetID           uint16
	NCharsetID          uint16

	FetchArraySize uint32 // default row-stream buffer capacity

	// Metrics, if set, receives per-connection observations: dial timing
	// and outcome, authentication timing, statement latency and errors,
	// row throughput, backpressure stalls, and Break counts. nil disables
	// instrumentation entirely.
	Metrics *metrics.Collector
}

func (o DialOptions) withDefaults() DialOptions {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.DriverName == "" {
		o.DriverName = "oranet"
	}
	if o.FetchArraySize == 0 {
		o.FetchArraySize = 100
	}
	return o
}

// Conn is a single Net8/TTC connection: one TCP socket, one negotiated
// capability set, one lifecycle state machine. A Conn may be shared across
// goroutines: Execute, Fetch, Commit and the other requests are queued and
// run one at a time, in submission order, by the connection's dispatcher
// goroutine (see queue below); Break bypasses the queue.
type Conn struct {
	netConn net.Conn
	framer  *tnsio.Framer
	caps    protocol.Capabilities
	opts    DialOptions

	stateMu sync.Mutex
	state   State

	// queue is the FIFO request queue described in §5. Execute, Fetch,
	// Commit, Rollback, Ping, and Reset all submit an oracleTask here
	// instead of driving the wire themselves; runQueue is the single
	// dispatcher goroutine that pops and runs them strictly in order, which
	// is what guarantees a connection never has two logical requests
	// outstanding on the wire at once.
	queue *taskQueue

	// writeMu guards raw writes to netConn independently of the task queue
	// so a Marker can be interjected while the dispatcher is parked reading
	// a response.
	writeMu sync.Mutex

	pbMu                sync.Mutex
	pendingCursorCloses []uint32

	readBuf  []byte
	cursorID uint32 // last cursor ID handed out by nextCursorID
}

// Dial opens the TCP connection, negotiates the TNS/TTC handshake, and
// authenticates, returning a Conn in StateReadyForStatement. When
// opts.Metrics is set, the whole dial is timed and recorded as a single
// DialCompleted/DialFailed observation, classified by which stage failed.
func Dial(ctx context.Context, addr string, auth protocol.AuthContext, opts DialOptions) (*Conn, error) {
	opts = opts.withDefaults()
	start := time.Now()

	d := net.Dialer{Timeout: opts.ConnectTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if opts.Metrics != nil {
			opts.Metrics.DialFailed("connect")
		}
		return nil, fmt.Errorf("session: dialing %s: %w", addr, err)
	}

	c := &Conn{
		netConn: nc,
		framer:  tnsio.NewFramer(),
		opts:    opts,
		state:   StateInitialized,
		queue:   newTaskQueue(),
	}
	go c.runQueue()

	if err := c.negotiate(ctx, addr, auth); err != nil {
		nc.Close()
		c.setState(StateError)
		if opts.Metrics != nil {
			opts.Metrics.DialFailed("handshake")
		}
		return nil, err
	}

	authStart := time.Now()
	authErr := c.authenticate(ctx, auth)
	if opts.Metrics != nil {
		opts.Metrics.AuthCompleted(time.Since(authStart), authErr == nil)
	}
	if authErr != nil {
		nc.Close()
		c.setState(StateError)
		if opts.Metrics != nil {
			opts.Metrics.DialFailed("auth")
		}
		return nil, authErr
	}

	if opts.Metrics != nil {
		opts.Metrics.DialCompleted(time.Since(start))
	}
	return c, nil
}

func (c *Conn) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Conn) transition(ev Event) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	n, err := next(c.state, ev)
	c.state = n
	if err != nil {
		return err
	}
	return nil
}

func hostFromAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 1521
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

// negotiate drives the TNS Connect/Accept exchange and the Protocol/
// DataTypes messages, leaving the connection ready for authenticate to run
// the two-phase auth exchange. Split out from Dial so dial failures can be
// classified by stage ("connect" happens in Dial itself, "handshake" is
// everything here, "auth" is authenticate).
func (c *Conn) negotiate(ctx context.Context, addr string, auth protocol.AuthContext) error {
	host, port := hostFromAddr(addr)
	descriptor := protocol.BuildConnectDescriptor(host, port, auth.ServiceName, auth.IsSID, auth.Purity)

	payload, overflow := protocol.EncodeConnect(descriptor)
	if err := c.writeRaw(c.framer.EncodeSimple(tnsio.PacketTypeConnect, 0, payload)); err != nil {
		return fmt.Errorf("session: sending connect packet: %w", err)
	}
	if err := c.transition(EventConnectSent); err != nil {
		return err
	}

	pkt, err := c.readPacket(ctx)
	if err != nil {
		return fmt.Errorf("session: awaiting accept: %w", err)
	}

	switch pkt.Type {
	case tnsio.PacketTypeRefuse:
		return fmt.Errorf("session: connection refused by listener: %s", string(pkt.Payload))
	case tnsio.PacketTypeRedirect:
		return fmt.Errorf("session: redirect not followed automatically: %s", string(pkt.Payload))
	case tnsio.PacketTypeResend:
		if err := c.writeRaw(c.framer.EncodeSimple(tnsio.PacketTypeConnect, 0, payload)); err != nil {
			return fmt.Errorf("session: resending connect packet: %w", err)
		}
		pkt, err = c.readPacket(ctx)
		if err != nil {
			return fmt.Errorf("session: awaiting accept after resend: %w", err)
		}
	}
	if pkt.Type != tnsio.PacketTypeAccept {
		return fmt.Errorf("session: expected ACCEPT, got %s", pkt.Type)
	}
	if len(overflow) > 0 {
		slog.Debug("connect descriptor overflow sent as data packet", "bytes", len(overflow))
		if err := c.writeData(overflow, 0); err != nil {
			return fmt.Errorf("session: sending connect data overflow: %w", err)
		}
	}

	accept, err := protocol.DecodeAccept(pkt.Payload)
	if err != nil {
		return fmt.Errorf("session: decoding accept: %w", err)
	}
	caps, err := protocol.NegotiateFromAccept(accept)
	if err != nil {
		return err
	}
	caps.CompileCapabilities = c.opts.CompileCapabilities
	caps.RuntimeCapabilities = c.opts.RuntimeCapabilities
	caps.CharsetID = c.opts.CharsetID
	caps.NCharsetID = c.opts.NCharsetID
	c.caps = caps
	c.framer.Negotiate(caps.LargeSDU(), caps.SDU)
	if err := c.transition(EventAcceptReceived); err != nil {
		return err
	}

	w := tnsio.NewWriter(256)
	protocol.EncodeProtocol(w, c.opts.DriverName)
	if err := c.writeData(w.Bytes(), 0); err != nil {
		return fmt.Errorf("session: sending protocol message: %w", err)
	}
	if err := c.transition(EventProtocolSent); err != nil {
		return err
	}
	if _, err := c.readMessages(ctx); err != nil {
		return fmt.Errorf("session: reading protocol response: %w", err)
	}

	w = tnsio.NewWriter(256)
	protocol.EncodeDataTypes(w, caps.CharsetID, caps.NCharsetID, caps.CompileCapabilities, caps.RuntimeCapabilities, nil)
	if err := c.writeData(w.Bytes(), 0); err != nil {
		return fmt.Errorf("session: sending data types message: %w", err)
	}
	if err := c.transition(EventDataTypesSent); err != nil {
		return err
	}

	return nil
}

// writeRaw sends a fully-framed TNS packet.
func (c *Conn) writeRaw(framed []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.netConn.Write(framed)
	return err
}

// writeData frames and sends payload as one or more Data packets.
func (c *Conn) writeData(payload []byte, dataFlags uint16) error {
	for _, chunk := range c.framer.EncodeData(payload, dataFlags) {
		if err := c.writeRaw(chunk); err != nil {
			return err
		}
	}
	return nil
}

// readPacket blocks until the framer can assemble one complete packet from
// the socket, honoring ctx's deadline.
func (c *Conn) readPacket(ctx context.Context) (tnsio.Packet, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.netConn.SetReadDeadline(deadline)
		defer c.netConn.SetReadDeadline(time.Time{})
	}

	if c.readBuf == nil {
		c.readBuf = make([]byte, 32*1024)
	}
	for {
		n, err := c.netConn.Read(c.readBuf)
		if n > 0 {
			pkts, ferr := c.framer.Feed(c.readBuf[:n])
			if ferr != nil {
				return tnsio.Packet{}, fmt.Errorf("session: fatal framing error: %w", ferr)
			}
			if len(pkts) > 0 {
				return pkts[0], nil
			}
		}
		if err != nil {
			return tnsio.Packet{}, err
		}
	}
}

// readMessages reads Data packets until one carries the DataFlagEOF bit,
// decoding and concatenating every TTC message across them.
func (c *Conn) readMessages(ctx context.Context) ([]protocol.Message, error) {
	var all []protocol.Message
	for {
		pkt, err := c.readPacket(ctx)
		if err != nil {
			return all, err
		}
		if pkt.Type == tnsio.PacketTypeMarker {
			slog.Debug("marker echoed back by server, discarding")
			continue
		}
		if pkt.Type != tnsio.PacketTypeData {
			return all, fmt.Errorf("session: expected DATA packet, got %s", pkt.Type)
		}
		msgs, derr := protocol.DecodeDataPacketMessages(pkt.Payload)
		all = append(all, msgs...)
		if derr != nil {
			return all, derr
		}
		if pkt.DataFlags&uint16(tnsio.DataFlagEOF) != 0 {
			return all, nil
		}
	}
}

// Close sends Logoff (best-effort), stops the dispatcher goroutine, and
// tears down the transport.
func (c *Conn) Close() error {
	c.transition(EventCloseRequested)
	w := tnsio.NewWriter(8)
	protocol.EncodeLogoff(w)
	_ = c.writeData(w.Bytes(), uint16(tnsio.DataFlagEOF))
	c.queue.close()
	err := c.netConn.Close()
	c.transition(EventTransportClosed)
	return err
}

// NewTestConn wraps an already-established transport (typically one half
// of a net.Pipe) as a Conn in StateReadyForStatement, skipping the
// handshake and authentication. It exists so pool and integration tests
// can inject a connection without a live listener, mirroring how the
// reference pool injected raw net.Conn pairs directly into its idle list.
func NewTestConn(netConn net.Conn, opts DialOptions) *Conn {
	c := &Conn{
		netConn: netConn,
		framer:  tnsio.NewFramer(),
		opts:    opts.withDefaults(),
		state:   StateReadyForStatement,
		queue:   newTaskQueue(),
	}
	go c.runQueue()
	return c
}

// nextCursorID hands out increasing cursor identifiers for new statements.
func (c *Conn) nextCursorID() uint32 {
	c.cursorID++
	return c.cursorID
}

// takePendingCursorCloses drains the piggyback queue (§4.4: cursor-close
// requests accumulated while a prior statement was executing are folded
// into the next outbound request instead of a dedicated round-trip).
func (c *Conn) takePendingCursorCloses() []uint32 {
	c.pbMu.Lock()
	defer c.pbMu.Unlock()
	if len(c.pendingCursorCloses) == 0 {
		return nil
	}
	out := c.pendingCursorCloses
	c.pendingCursorCloses = nil
	return out
}

// queueCursorClose records a cursor for piggybacked closure on the next
// request this connection sends.
func (c *Conn) queueCursorClose(cursorID uint32) {
	c.pbMu.Lock()
	c.pendingCursorCloses = append(c.pendingCursorCloses, cursorID)
	c.pbMu.Unlock()
}

// Package peer manages a single BitTorrent peer-wire connection: the
// handshake, a reader goroutine, a writer goroutine with keep-alive, and
// translation of wire messages into Events for a single owning dispatcher.
//
// No peer method reaches into another peer's state, and a Peer never reads
// scheduler state directly; it only reports what happened (via Event) and
// carries out what it is told to send (via its outbox). This keeps the
// scheduler and swarm membership single-owner, per the package doc on
// internal/scheduler.
package peer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/leech/internal/bitfield"
	"github.com/example/leech/internal/wire"
	"golang.org/x/sync/errgroup"
)

// Config bounds timeouts and queue sizes for every peer connection.
type Config struct {
	DialTimeout         time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	KeepAliveIdle       time.Duration
	PeerInactivityLimit time.Duration
	OutboxBacklog       int
}

// Peer is one TCP connection to a remote peer, already past the handshake.
type Peer struct {
	log      *slog.Logger
	conn     net.Conn
	addr     netip.AddrPort
	id       string
	remoteID [20]byte
	cfg      Config

	state atomic.Int32

	amChoking      atomic.Bool
	amInterested   atomic.Bool
	peerChoking    atomic.Bool
	peerInterested atomic.Bool

	bfMu     sync.Mutex
	bf       bitfield.Bitfield
	bfKnown  bool
	lastSeen atomic.Int64

	// sawMessage is true once any non-keepalive message has been handled.
	// Only readLoop touches it, so it needs no synchronization. BITFIELD is
	// only legal as the peer's first message; once this is true a later
	// BITFIELD is a protocol violation.
	sawMessage bool

	outbox chan *wire.Message
	events chan<- Event

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Dial connects to addr, performs the handshake, and returns a Peer ready
// to Run. events is the shared channel every peer reports activity on; it
// must be read by exactly one dispatcher goroutine.
func Dial(ctx context.Context, addr netip.AddrPort, infoHash, clientID [20]byte, pieceCount int, cfg Config, log *slog.Logger, events chan<- Event) (*Peer, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("peer: dial %s: %w", addr, err)
	}

	if cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
	}
	if cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}

	local := wire.NewHandshake(infoHash, clientID)
	remote, err := wire.Exchange(conn, local, true)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer: handshake %s: %w", addr, err)
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})

	p := &Peer{
		log:      log.With("peer", addr.String()),
		conn:     conn,
		addr:     addr,
		id:       addr.String(),
		remoteID: remote.PeerID,
		cfg:      cfg,
		bf:       bitfield.New(pieceCount),
		outbox:   make(chan *wire.Message, cfg.OutboxBacklog),
		events:   events,
	}
	p.amChoking.Store(true)
	p.peerChoking.Store(true)
	p.lastSeen.Store(time.Now().UnixNano())
	p.state.Store(int32(StateActive))

	return p, nil
}

// ID is the stable key this peer is tracked under (its address string).
func (p *Peer) ID() string { return p.id }

// Addr returns the peer's address.
func (p *Peer) Addr() netip.AddrPort { return p.addr }

func (p *Peer) State() State { return State(p.state.Load()) }

func (p *Peer) PeerChoking() bool    { return p.peerChoking.Load() }
func (p *Peer) PeerInterested() bool { return p.peerInterested.Load() }
func (p *Peer) AmInterested() bool   { return p.amInterested.Load() }

func (p *Peer) Idle() time.Duration {
	return time.Since(time.Unix(0, p.lastSeen.Load()))
}

// Run drives the peer's reader and writer loops until one fails or ctx is
// done, then reports EventDisconnect exactly once and closes the
// connection.
func (p *Peer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	defer p.Close()

	g, gctx := errgroup.WithContext(ctx)
	p.emit(Event{Peer: p, Kind: EventHandshakeDone})
	g.Go(func() error { return p.readLoop(gctx) })
	g.Go(func() error { return p.writeLoop(gctx) })

	err := g.Wait()
	if err != nil {
		p.state.Store(int32(StateEvicting))
	}
	p.state.Store(int32(StateDead))
	p.emit(Event{Peer: p, Kind: EventDisconnect, Err: err})
	return err
}

// Close tears down the connection. Safe to call more than once and from
// any goroutine.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.conn.Close()
	})
}

func (p *Peer) emit(ev Event) {
	p.events <- ev
}

func (p *Peer) touch() { p.lastSeen.Store(time.Now().UnixNano()) }

func (p *Peer) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if p.cfg.ReadTimeout > 0 {
			p.conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout))
		}

		msg, err := wire.ReadMessage(p.conn)
		if err != nil {
			return fmt.Errorf("peer: read: %w", err)
		}
		p.touch()

		if err := p.handle(msg); err != nil {
			return err
		}
	}
}

func (p *Peer) handle(msg *wire.Message) error {
	if msg.ID == wire.MsgBitfield && p.sawMessage {
		return fmt.Errorf("peer: %s: bitfield is only legal as the first message", p.id)
	}
	if msg.ID != wire.MsgKeepAlive {
		p.sawMessage = true
	}

	switch msg.ID {
	case wire.MsgKeepAlive:
		return nil
	case wire.MsgChoke:
		p.peerChoking.Store(true)
		p.emit(Event{Peer: p, Kind: EventChoke})
	case wire.MsgUnchoke:
		p.peerChoking.Store(false)
		p.emit(Event{Peer: p, Kind: EventUnchoke})
	case wire.MsgInterested:
		p.peerInterested.Store(true)
		p.emit(Event{Peer: p, Kind: EventInterested})
	case wire.MsgNotInterested:
		p.peerInterested.Store(false)
		p.emit(Event{Peer: p, Kind: EventNotInterested})
	case wire.MsgHave:
		idx, ok := wire.ParseHave(msg)
		if !ok {
			return fmt.Errorf("peer: %s: malformed have payload", p.id)
		}
		p.bfMu.Lock()
		err := p.bf.Set(int(idx), true)
		p.bfMu.Unlock()
		if err != nil {
			return fmt.Errorf("peer: %s: have index %d out of range: %w", p.id, idx, err)
		}
		p.emit(Event{Peer: p, Kind: EventHave, Index: int(idx)})
	case wire.MsgBitfield:
		if err := msg.ValidatePayloadSize(p.bfSize()); err != nil {
			return fmt.Errorf("peer: %s: %w", p.id, err)
		}
		bf, err := bitfield.FromBytes(msg.Payload, p.bfLen())
		if err != nil {
			return fmt.Errorf("peer: %s: %w", p.id, err)
		}
		p.bfMu.Lock()
		p.bf = bf
		p.bfKnown = true
		p.bfMu.Unlock()
		p.emit(Event{Peer: p, Kind: EventBitfield, BF: bf.Clone()})
	case wire.MsgRequest:
		idx, begin, _, ok := wire.ParseRequest(msg)
		if !ok {
			return fmt.Errorf("peer: %s: malformed request payload", p.id)
		}
		// am_choking is permanently true: this client never uploads.
		// The request is reported only for observability.
		p.emit(Event{Peer: p, Kind: EventRequest, Index: int(idx), Begin: int(begin)})
	case wire.MsgCancel:
		idx, begin, _, ok := wire.ParseRequest(msg)
		if !ok {
			return fmt.Errorf("peer: %s: malformed cancel payload", p.id)
		}
		p.emit(Event{Peer: p, Kind: EventCancel, Index: int(idx), Begin: int(begin)})
	case wire.MsgPiece:
		idx, begin, data, ok := wire.ParsePiece(msg)
		if !ok {
			return fmt.Errorf("peer: %s: malformed piece payload", p.id)
		}
		p.emit(Event{Peer: p, Kind: EventPiece, Index: int(idx), Begin: int(begin), Data: data})
	case wire.MsgPort:
		// DHT port announcement; this client has no DHT, ignore.
	default:
		p.log.Debug("unknown message id", "id", int16(msg.ID))
	}
	return nil
}

// Bitfield returns a snapshot of what this peer has told us it holds.
func (p *Peer) Bitfield() bitfield.Bitfield {
	p.bfMu.Lock()
	defer p.bfMu.Unlock()
	return p.bf.Clone()
}

func (p *Peer) bfLen() int {
	p.bfMu.Lock()
	defer p.bfMu.Unlock()
	return p.bf.Len()
}

func (p *Peer) bfSize() int {
	p.bfMu.Lock()
	defer p.bfMu.Unlock()
	return len(p.bf.Bytes())
}

func (p *Peer) writeLoop(ctx context.Context) error {
	idle := p.cfg.KeepAliveIdle
	if idle <= 0 {
		idle = 60 * time.Second
	}
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-p.outbox:
			if !ok {
				return nil
			}
			if err := p.write(msg); err != nil {
				return err
			}

		case <-ticker.C:
			idleDur := time.Since(time.Unix(0, p.lastSeen.Load()))
			if p.cfg.PeerInactivityLimit > 0 && idleDur >= p.cfg.PeerInactivityLimit {
				return fmt.Errorf("peer: %s: inactive for %s, evicting", p.id, idleDur)
			}
			if idleDur >= idle {
				if err := p.write(wire.KeepAlive()); err != nil {
					return err
				}
			}
		}
	}
}

func (p *Peer) write(msg *wire.Message) error {
	if p.cfg.WriteTimeout > 0 {
		p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	}
	if err := wire.WriteMessage(p.conn, msg); err != nil {
		return fmt.Errorf("peer: write: %w", err)
	}
	return nil
}

func (p *Peer) enqueue(msg *wire.Message) {
	select {
	case p.outbox <- msg:
	default:
		p.log.Warn("outbox full, dropping message", "id", int16(msg.ID))
	}
}

func (p *Peer) SendInterested() {
	p.amInterested.Store(true)
	p.enqueue(wire.Interested())
}

func (p *Peer) SendNotInterested() {
	p.amInterested.Store(false)
	p.enqueue(wire.NotInterested())
}

func (p *Peer) SendBitfield(bf bitfield.Bitfield) { p.enqueue(wire.BitfieldMsg(bf.Bytes())) }
func (p *Peer) SendHave(index int)                { p.enqueue(wire.Have(uint32(index))) }

func (p *Peer) SendRequest(index, begin, length int) {
	if p.peerChoking.Load() {
		return
	}
	p.enqueue(wire.Request(uint32(index), uint32(begin), uint32(length)))
}

func (p *Peer) SendCancel(index, begin, length int) {
	p.enqueue(wire.Cancel(uint32(index), uint32(begin), uint32(length)))
}

// Package engine wires metainfo, storage, the piece scheduler, the tracker
// client, and the peer swarm into a single leech run: announce, connect,
// exchange pieces, verify, stop once every piece is on disk.
//
// A single dispatcher goroutine owns the scheduler and the live-peer map
// (see internal/scheduler's package doc); every peer goroutine only ever
// talks to the dispatcher through the shared events channel, and the
// dispatcher only ever talks back to a peer through that peer's own
// Send* methods. Nothing else touches scheduler or peer-map state.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/example/leech/internal/config"
	"github.com/example/leech/internal/metainfo"
	"github.com/example/leech/internal/peer"
	"github.com/example/leech/internal/scheduler"
	"github.com/example/leech/internal/storage"
	"github.com/example/leech/internal/tracker"
	"golang.org/x/sync/errgroup"
)

// pipelineDepth is how many outstanding block requests the dispatcher lets
// a single unchoked peer carry at once.
const pipelineDepth = 5

// connectBacklog bounds how many dialable addresses are queued between
// announces; beyond this, newly discovered addresses are dropped (the next
// announce will likely offer them again).
const connectBacklog = 256

// dialWorkers is the number of concurrent outbound connection attempts.
const dialWorkers = 10

// Progress is called after every piece that is successfully verified.
type Progress func(completed, total int)

// Engine runs one torrent's leech from start to completion.
type Engine struct {
	cfg   config.Config
	meta  *metainfo.Metainfo
	store *storage.Store
	sched *scheduler.Scheduler
	trk   *tracker.Client
	log   *slog.Logger

	onProgress Progress

	events   chan peer.Event
	newPeers chan *peer.Peer
	connect  chan netip.AddrPort

	// active is the number of peers currently tracked by dispatch's live
	// set. dialLoop reads it to stop making new connection attempts once
	// the swarm reaches cfg.MinPeers; dispatch is the only writer.
	active atomic.Int32
}

// New opens storage for m under outputDir and builds the scheduler, tracker
// client, and engine ready to Run.
func New(cfg config.Config, m *metainfo.Metainfo, outputDir string, log *slog.Logger, onProgress Progress) (*Engine, error) {
	store, err := storage.Open(m, outputDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open storage: %w", err)
	}

	sched, err := scheduler.New(store, m.PieceHashes, m.TotalSize(), m.Info.PieceLength)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: build scheduler: %w", err)
	}

	trk, err := tracker.New(m.Announce, m.AnnounceList)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: build tracker client: %w", err)
	}

	return &Engine{
		cfg:        cfg,
		meta:       m,
		store:      store,
		sched:      sched,
		trk:        trk,
		log:        log,
		onProgress: onProgress,
		events:     make(chan peer.Event, 256),
		newPeers:   make(chan *peer.Peer, dialWorkers),
		connect:    make(chan netip.AddrPort, connectBacklog),
	}, nil
}

// Run drives the download to completion or until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer e.store.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.announceLoop(gctx, cancel) })
	for i := 0; i < dialWorkers; i++ {
		g.Go(func() error { return e.dialLoop(gctx) })
	}
	g.Go(func() error {
		err := e.dispatch(gctx)
		cancel() // download finished (or fatally failed): stop everything else
		return err
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (e *Engine) peerConfig() peer.Config {
	return peer.Config{
		DialTimeout:         e.cfg.DialTimeout,
		ReadTimeout:         e.cfg.ReadTimeout,
		WriteTimeout:        e.cfg.WriteTimeout,
		KeepAliveIdle:       e.cfg.KeepAliveIdle,
		PeerInactivityLimit: e.cfg.PeerInactivityLimit,
		OutboxBacklog:       64,
	}
}

func (e *Engine) dialLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case addr, ok := <-e.connect:
			if !ok {
				return nil
			}
			if e.cfg.MinPeers > 0 && int(e.active.Load()) >= e.cfg.MinPeers {
				// Active set already at target: abort this connect attempt
				// rather than dial a peer we'd immediately have to drop.
				continue
			}
			p, err := peer.Dial(ctx, addr, e.meta.InfoHash, e.cfg.ClientID, e.sched.Len(), e.peerConfig(), e.log, e.events)
			if err != nil {
				e.log.Debug("dial failed", "addr", addr, "error", err)
				continue
			}
			select {
			case e.newPeers <- p:
			case <-ctx.Done():
				p.Close()
				return nil
			}
		}
	}
}

func (e *Engine) admit(addrs []netip.AddrPort) {
	for _, addr := range addrs {
		select {
		case e.connect <- addr:
		default:
			e.log.Debug("connect queue full, dropping peer", "addr", addr)
		}
	}
}

func (e *Engine) announceLoop(ctx context.Context, stop context.CancelFunc) error {
	resp, err := e.trk.Announce(ctx, e.announceParams(tracker.EventStarted))
	if err != nil {
		return fmt.Errorf("engine: initial announce: %w", err)
	}
	e.log.Info("announce ok", "peers", len(resp.Peers), "seeders", resp.Seeders, "leechers", resp.Leechers)
	e.admit(resp.Peers)
	trackerID := resp.TrackerID

	interval := announceInterval(resp)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			if e.bytesLeft() == 0 {
				params := e.announceParams(tracker.EventCompleted)
				params.TrackerID = trackerID
				e.trk.Announce(sctx, params)
			}
			params := e.announceParams(tracker.EventStopped)
			params.TrackerID = trackerID
			e.trk.Announce(sctx, params)
			scancel()
			return nil

		case <-ticker.C:
			params := e.announceParams(tracker.EventNone)
			params.TrackerID = trackerID
			resp, err := e.trk.Announce(ctx, params)
			if err != nil {
				e.log.Warn("re-announce failed", "error", err)
				continue
			}
			if resp.TrackerID != "" {
				trackerID = resp.TrackerID
			}
			e.admit(resp.Peers)
			ticker.Reset(announceInterval(resp))
		}
	}
}

func announceInterval(resp *tracker.AnnounceResponse) time.Duration {
	interval := resp.Interval
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if resp.MinInterval > interval {
		interval = resp.MinInterval
	}
	return interval
}

func (e *Engine) announceParams(event tracker.Event) tracker.AnnounceParams {
	left := e.bytesLeft()
	if left == 0 && event == tracker.EventNone {
		event = tracker.EventCompleted
	}
	return tracker.AnnounceParams{
		InfoHash:   e.meta.InfoHash,
		PeerID:     e.cfg.ClientID,
		Port:       e.cfg.ListenPort,
		Downloaded: uint64(e.meta.TotalSize() - left),
		Left:       uint64(left),
		NumWant:    e.cfg.NumWant,
		Event:      event,
	}
}

func (e *Engine) bytesLeft() int64 {
	bf := e.sched.ToBitfield()
	total := e.meta.TotalSize()
	pieceLen := e.meta.Info.PieceLength
	completed := int64(bf.Count())
	left := total - completed*pieceLen
	if left < 0 {
		left = 0
	}
	return left
}

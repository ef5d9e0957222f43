package engine

import (
	"context"

	"github.com/example/leech/internal/peer"
)

// dispatch is the single goroutine that owns e.sched and the live-peer map.
// It exits, successfully, once every piece has been verified.
func (e *Engine) dispatch(ctx context.Context) error {
	peers := make(map[string]*peer.Peer)

	for {
		if e.sched.Done() {
			e.log.Info("download complete")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case p := <-e.newPeers:
			peers[p.ID()] = p
			e.active.Add(1)
			go p.Run(ctx)
			p.SendBitfield(e.sched.ToBitfield())

		case ev := <-e.events:
			e.handleEvent(ev, peers)
		}
	}
}

func (e *Engine) handleEvent(ev peer.Event, peers map[string]*peer.Peer) {
	p := ev.Peer

	switch ev.Kind {
	case peer.EventBitfield:
		e.sched.AddPeerBitfield(p.ID(), ev.BF)
		if !p.AmInterested() && e.sched.IsInterested(ev.BF) {
			p.SendInterested()
		}
		e.fillPipeline(p)

	case peer.EventHave:
		if err := e.sched.AddPeerHave(p.ID(), ev.Index); err != nil {
			e.log.Debug("have out of range", "peer", p.ID(), "index", ev.Index)
			return
		}
		if !p.AmInterested() && e.sched.IsInterested(p.Bitfield()) {
			p.SendInterested()
		}
		e.fillPipeline(p)

	case peer.EventChoke:
		e.sched.ResetPeerRequests(p.ID())

	case peer.EventUnchoke:
		e.fillPipeline(p)

	case peer.EventPiece:
		completed, verified, err := e.sched.SetBlock(ev.Index, ev.Begin, ev.Data)
		if err != nil {
			e.log.Warn("set block failed", "peer", p.ID(), "index", ev.Index, "error", err)
			return
		}
		if completed {
			if verified {
				e.log.Info("piece verified", "index", ev.Index)
				e.announceHave(ev.Index, peers)
				if e.onProgress != nil {
					e.onProgress(e.completedCount(), e.sched.Len())
				}
			} else {
				e.log.Warn("piece failed hash check, rescheduling", "index", ev.Index)
			}
		}
		e.fillPipeline(p)

	case peer.EventInterested, peer.EventNotInterested, peer.EventRequest, peer.EventCancel:
		// this client never uploads; nothing to do.

	case peer.EventDisconnect:
		e.log.Warn("peer evicted", "peer", p.ID(), "error", ev.Err)
		e.sched.ResetPeerRequests(p.ID())
		e.sched.RemovePeer(p.ID())
		if _, ok := peers[p.ID()]; ok {
			delete(peers, p.ID())
			e.active.Add(-1)
		}
	}
}

func (e *Engine) fillPipeline(p *peer.Peer) {
	if p.PeerChoking() {
		return
	}
	for i := 0; i < pipelineDepth; i++ {
		req, ok := e.sched.SchedulePiece(p.ID())
		if !ok {
			return
		}
		p.SendRequest(req.PieceIndex, req.Begin, req.Length)
	}
}

func (e *Engine) announceHave(index int, peers map[string]*peer.Peer) {
	for _, p := range peers {
		p.SendHave(index)
	}
}

func (e *Engine) completedCount() int {
	return e.sched.ToBitfield().Count()
}

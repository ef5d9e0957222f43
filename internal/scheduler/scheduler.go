// Package scheduler tracks per-piece and per-block state and per-piece peer
// availability, and answers "what block should this peer request next".
//
// The scheduler is designed to be owned by exactly one goroutine (the
// engine's dispatcher); none of its methods take a lock, because nothing
// else is meant to call them concurrently. This is the idiomatic-Go
// substitute for a single-threaded cooperative scheduler: instead of an
// executor guaranteeing only one task runs at a time, a single goroutine
// owns the data and never shares it.
package scheduler

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/example/leech/internal/bitfield"
	"github.com/example/leech/internal/storage"
)

// BlockLength is the standard block size (16 KiB). Only the last block of
// the last piece may be shorter.
const BlockLength = 16 * 1024

type blockStatus int

const (
	blockIdle blockStatus = iota
	blockRequested
	blockCompleted
)

type block struct {
	begin  int
	length int
	status blockStatus
}

type piece struct {
	index     int
	length    int
	hash      [20]byte
	blocks    []*block
	completed bool
	peers     map[string]struct{}
}

// Request is a (piece, begin, length) tuple the caller should send as a
// REQUEST message.
type Request struct {
	PieceIndex int
	Begin      int
	Length     int
}

// Scheduler is the piece/block bookkeeping engine. PeerID is an opaque
// string key; callers typically use the peer's netip.AddrPort.String().
type Scheduler struct {
	pieces      []*piece
	store       *storage.Store
	anyComplete bool
	bf          bitfield.Bitfield
	rng         *rand.Rand
}

// New builds a scheduler from the piece hash list and total content size.
// pieceLength must be positive and a multiple of BlockLength.
func New(store *storage.Store, hashes [][20]byte, totalSize int64, pieceLength int64) (*Scheduler, error) {
	if pieceLength <= 0 {
		return nil, fmt.Errorf("scheduler: piece length must be positive")
	}
	if pieceLength%BlockLength != 0 {
		return nil, fmt.Errorf("scheduler: piece length %d is not a multiple of block length %d", pieceLength, BlockLength)
	}

	n := len(hashes)
	pieces := make([]*piece, n)

	for i := 0; i < n; i++ {
		start := int64(i) * pieceLength
		end := start + pieceLength
		if end > totalSize {
			end = totalSize
		}
		plen := int(end - start)

		var blocks []*block
		for off := 0; off < plen; off += BlockLength {
			blen := BlockLength
			if off+blen > plen {
				blen = plen - off
			}
			blocks = append(blocks, &block{begin: off, length: blen})
		}

		pieces[i] = &piece{
			index:  i,
			length: plen,
			hash:   hashes[i],
			blocks: blocks,
			peers:  make(map[string]struct{}),
		}
	}

	return &Scheduler{
		pieces: pieces,
		store:  store,
		bf:     bitfield.New(n),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Len returns the number of pieces.
func (s *Scheduler) Len() int { return len(s.pieces) }

// ToBitfield returns the current local completion bitfield.
func (s *Scheduler) ToBitfield() bitfield.Bitfield { return s.bf.Clone() }

// Done reports whether every piece has been verified.
func (s *Scheduler) Done() bool { return s.bf.All() }

// AddPeerBitfield inserts peerID into the peer set of every piece the
// bitfield marks as held.
func (s *Scheduler) AddPeerBitfield(peerID string, bf bitfield.Bitfield) {
	for i, p := range s.pieces {
		if has, err := bf.Has(i); err == nil && has {
			p.peers[peerID] = struct{}{}
		}
	}
}

// AddPeerHave inserts peerID into a single piece's peer set. Returns an
// error if index is out of range.
func (s *Scheduler) AddPeerHave(peerID string, index int) error {
	if index < 0 || index >= len(s.pieces) {
		return fmt.Errorf("scheduler: have index %d out of range", index)
	}
	s.pieces[index].peers[peerID] = struct{}{}
	return nil
}

// RemovePeer removes peerID from every piece's peer set. Called on peer
// eviction.
func (s *Scheduler) RemovePeer(peerID string) {
	for _, p := range s.pieces {
		delete(p.peers, peerID)
	}
}

// ResetPeerRequests clears the `requested` flag on every block belonging to
// a piece peerID is a member of. Called on CHOKE and on peer eviction, so
// in-flight blocks are rescheduled rather than stuck waiting forever.
func (s *Scheduler) ResetPeerRequests(peerID string) {
	for _, p := range s.pieces {
		if _, ok := p.peers[peerID]; !ok {
			continue
		}
		for _, b := range p.blocks {
			if b.status == blockRequested {
				b.status = blockIdle
			}
		}
	}
}

// IsInterested reports whether the peer holds at least one piece we have
// not yet completed.
func (s *Scheduler) IsInterested(bf bitfield.Bitfield) bool {
	for i, p := range s.pieces {
		if p.completed {
			continue
		}
		if has, err := bf.Has(i); err == nil && has {
			return true
		}
	}
	return false
}

func (p *piece) hasSchedulableBlock() bool {
	for _, b := range p.blocks {
		if b.status == blockIdle {
			return true
		}
	}
	return false
}

func (p *piece) firstSchedulableBlock() *block {
	for _, b := range p.blocks {
		if b.status == blockIdle {
			return b
		}
	}
	return nil
}

// SchedulePiece chooses the next block to request from peerID, per the
// rarest-first-after-warmup policy: while no piece has ever completed,
// candidates are drawn uniformly at random (to get the first piece done
// quickly so hashes can start verifying); afterwards the candidate with the
// fewest peers wins, ties broken by smallest index.
func (s *Scheduler) SchedulePiece(peerID string) (Request, bool) {
	var candidates []*piece
	for _, p := range s.pieces {
		if p.completed {
			continue
		}
		if !p.hasSchedulableBlock() {
			continue
		}
		if _, ok := p.peers[peerID]; !ok {
			continue
		}
		candidates = append(candidates, p)
	}

	if len(candidates) == 0 {
		return Request{}, false
	}

	var chosen *piece
	if !s.anyComplete {
		chosen = candidates[s.rng.Intn(len(candidates))]
	} else {
		// candidates is in ascending index order; only replacing on
		// strictly fewer peers makes the smallest index the automatic
		// tie-break.
		chosen = candidates[0]
		for _, c := range candidates[1:] {
			if len(c.peers) < len(chosen.peers) {
				chosen = c
			}
		}
	}

	b := chosen.firstSchedulableBlock()
	if b == nil {
		return Request{}, false
	}
	b.status = blockRequested

	return Request{PieceIndex: chosen.index, Begin: b.begin, Length: b.length}, true
}

// SetBlock records a received block's bytes, persists them via the file
// mapper, and if the piece is now fully received, verifies its hash. On
// success the piece and the local bitfield are updated and `any_complete`
// is latched (never reset). On failure every block in the piece is reset to
// idle so it is rescheduled.
//
// pieceCompleted is true only when this call caused the piece's last block
// to be received; verifiedOK is meaningful only when pieceCompleted is
// true.
func (s *Scheduler) SetBlock(pieceIndex, begin int, data []byte) (pieceCompleted, verifiedOK bool, err error) {
	if pieceIndex < 0 || pieceIndex >= len(s.pieces) {
		return false, false, fmt.Errorf("scheduler: set_block piece index %d out of range", pieceIndex)
	}
	p := s.pieces[pieceIndex]

	blockIdx := begin / BlockLength
	if blockIdx < 0 || blockIdx >= len(p.blocks) {
		return false, false, fmt.Errorf("scheduler: set_block begin %d out of range for piece %d", begin, pieceIndex)
	}
	b := p.blocks[blockIdx]

	if b.status != blockRequested {
		// Not currently outstanding: either already completed or never
		// requested (a stale/duplicate PIECE racing a CANCEL). Drop it.
		return false, false, nil
	}

	if err := s.store.SaveBlock(pieceIndex, begin, data); err != nil {
		return false, false, err
	}
	b.status = blockCompleted

	for _, blk := range p.blocks {
		if blk.status != blockCompleted {
			return false, false, nil
		}
	}

	ok, err := s.store.VerifyPiece(pieceIndex, p.length)
	if err != nil {
		return true, false, err
	}

	if ok {
		p.completed = true
		s.bf.Set(pieceIndex, true)
		s.anyComplete = true
		return true, true, nil
	}

	for _, blk := range p.blocks {
		blk.status = blockIdle
	}
	return true, false, nil
}

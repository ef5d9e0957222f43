package engine

import (
	"crypto/sha1"
	"testing"
	"time"

	"github.com/example/leech/internal/metainfo"
	"github.com/example/leech/internal/scheduler"
	"github.com/example/leech/internal/storage"
	"github.com/example/leech/internal/tracker"
)

func buildTestEngine(t *testing.T) *Engine {
	t.Helper()

	pieceLen := int64(16384)
	total := pieceLen * 3
	content := make([]byte, total)

	hashes := make([][20]byte, 3)
	for i := range hashes {
		start := int64(i) * pieceLen
		hashes[i] = sha1.Sum(content[start : start+pieceLen])
	}

	m := &metainfo.Metainfo{
		Info: metainfo.Info{
			Name:        "foo.bin",
			PieceLength: pieceLen,
			Length:      total,
		},
		PieceHashes: hashes,
	}

	store, err := storage.Open(m, t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sched, err := scheduler.New(store, hashes, total, pieceLen)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}

	return &Engine{meta: m, sched: sched, store: store}
}

func TestBytesLeftStartsAtTotalSize(t *testing.T) {
	e := buildTestEngine(t)
	if got, want := e.bytesLeft(), e.meta.TotalSize(); got != want {
		t.Errorf("bytesLeft() = %d, want %d", got, want)
	}
}

func TestBytesLeftDecreasesAsPiecesComplete(t *testing.T) {
	e := buildTestEngine(t)

	peerID := "peer-a"
	for i := 0; i < e.sched.Len(); i++ {
		e.sched.AddPeerHave(peerID, i)
	}

	req, ok := e.sched.SchedulePiece(peerID)
	if !ok {
		t.Fatal("expected a request")
	}
	data := make([]byte, req.Length)
	if _, _, err := e.sched.SetBlock(req.PieceIndex, req.Begin, data); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}

	if got, want := e.bytesLeft(), e.meta.TotalSize()-e.meta.Info.PieceLength; got != want {
		t.Errorf("bytesLeft() = %d, want %d", got, want)
	}
}

func TestAnnounceIntervalPrefersResponseOverDefault(t *testing.T) {
	resp := &tracker.AnnounceResponse{Interval: 45 * time.Second}
	if got := announceInterval(resp); got != 45*time.Second {
		t.Errorf("announceInterval() = %v, want 45s", got)
	}
}

func TestAnnounceIntervalFallsBackWhenUnset(t *testing.T) {
	resp := &tracker.AnnounceResponse{}
	if got := announceInterval(resp); got != 2*time.Minute {
		t.Errorf("announceInterval() = %v, want 2m default", got)
	}
}

func TestAnnounceIntervalRespectsMinInterval(t *testing.T) {
	resp := &tracker.AnnounceResponse{Interval: 30 * time.Second, MinInterval: 90 * time.Second}
	if got := announceInterval(resp); got != 90*time.Second {
		t.Errorf("announceInterval() = %v, want 90s (min interval floor)", got)
	}
}

package tracker

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	bencode "github.com/jackpal/bencode-go"
)

func compactPeers(t *testing.T, entries ...[6]byte) string {
	t.Helper()
	var buf bytes.Buffer
	for _, e := range entries {
		buf.Write(e[:])
	}
	return buf.String()
}

func TestAnnounceDecodesCompactPeers(t *testing.T) {
	peers := compactPeers(t, [6]byte{127, 0, 0, 1, 0x1A, 0xE1})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"interval": 1800,
			"complete": 3,
			"peers":    peers,
		}
		if err := bencode.Marshal(w, resp); err != nil {
			t.Errorf("marshal response: %v", err)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := c.Announce(context.Background(), AnnounceParams{Port: 6881, NumWant: 50})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}

	if len(resp.Peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(resp.Peers))
	}
	if resp.Peers[0].Port() != 0x1AE1 {
		t.Errorf("expected port %d, got %d", 0x1AE1, resp.Peers[0].Port())
	}
	if resp.Seeders != 3 {
		t.Errorf("expected seeders=3, got %d", resp.Seeders)
	}
}

func TestAnnounceFailureReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bencode.Marshal(w, map[string]any{"failure reason": "info_hash not found"})
	}))
	defer srv.Close()

	c, err := New(srv.URL, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Announce(context.Background(), AnnounceParams{}); err == nil {
		t.Fatal("expected error for failure reason")
	}
}

func TestAnnounceFallsBackAcrossTiers(t *testing.T) {
	peers := compactPeers(t, [6]byte{10, 0, 0, 1, 0x00, 0x50})

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bencode.Marshal(w, map[string]any{"interval": 60, "peers": peers})
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	c, err := New("", [][]string{{bad.URL}, {good.URL}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := c.Announce(context.Background(), AnnounceParams{})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if len(resp.Peers) != 1 {
		t.Fatalf("expected fallback tier's peer, got %d peers", len(resp.Peers))
	}
}

func TestNewRejectsNoUsableURLs(t *testing.T) {
	if _, err := New("", nil); err == nil {
		t.Fatal("expected error for empty announce urls")
	}
	if _, err := New("udp://tracker.example.com:80", nil); err == nil {
		t.Fatal("expected error: no http/https trackers available")
	}
}

package metainfo

import (
	"bytes"
	"crypto/sha1"
	"testing"
)

func buildTorrent(t *testing.T, infoDict string) []byte {
	t.Helper()
	return []byte("d8:announce14:http://tracker4:info" + infoDict + "e")
}

func TestParseSingleFile(t *testing.T) {
	hash := sha1.Sum(bytes.Repeat([]byte{0}, 16384))
	info := "d6:lengthi16384e4:name7:foo.bin12:piece lengthi16384e6:pieces20:" + string(hash[:]) + "e"
	data := buildTorrent(t, info)

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Announce != "http://tracker" {
		t.Errorf("announce = %q", m.Announce)
	}
	if !m.SingleFile() {
		t.Error("expected single-file torrent")
	}
	if m.TotalSize() != 16384 {
		t.Errorf("total size = %d", m.TotalSize())
	}
	if len(m.PieceHashes) != 1 || m.PieceHashes[0] != hash {
		t.Errorf("piece hashes mismatch: %v", m.PieceHashes)
	}

	// info hash must equal SHA-1 over the raw info dict bytes, not some
	// re-encoded form.
	wantInfoHash := sha1.Sum([]byte(info))
	if m.InfoHash != wantInfoHash {
		t.Errorf("info hash = %x, want %x", m.InfoHash, wantInfoHash)
	}
}

func TestParseMultiFile(t *testing.T) {
	hash := sha1.Sum(bytes.Repeat([]byte{0}, 16384))
	info := "d5:filesld6:lengthi10000e4:pathl3:sub5:a.txtee" +
		"d6:lengthi6384e4:pathl5:b.txteee" +
		"4:name3:dir12:piece lengthi16384e6:pieces20:" + string(hash[:]) + "e"
	data := buildTorrent(t, info)

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.SingleFile() {
		t.Error("expected multi-file torrent")
	}
	if m.TotalSize() != 16384 {
		t.Errorf("total size = %d, want 16384", m.TotalSize())
	}
	if len(m.Info.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(m.Info.Files))
	}
}

func TestParseMissingAnnounce(t *testing.T) {
	data := []byte("d4:infod6:lengthi1e4:name1:a12:piece lengthi1e6:pieces0:ee")
	if _, err := Parse(data); err != ErrAnnounceMissing {
		t.Errorf("expected ErrAnnounceMissing, got %v", err)
	}
}

func TestParseBadPiecesLength(t *testing.T) {
	info := "d6:lengthi1e4:name1:a12:piece lengthi1e6:pieces3:abce"
	data := buildTorrent(t, info)
	if _, err := Parse(data); err != ErrPiecesInvalid {
		t.Errorf("expected ErrPiecesInvalid, got %v", err)
	}
}

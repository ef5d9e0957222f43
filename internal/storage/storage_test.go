package storage

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/leech/internal/metainfo"
)

func TestSingleFileSaveAndVerify(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 16384)
	hash := sha1.Sum(data)

	m := &metainfo.Metainfo{
		Info: metainfo.Info{
			Name:        "foo.bin",
			PieceLength: 16384,
			Length:      16384,
		},
		PieceHashes: [][20]byte{hash},
	}

	s, err := Open(m, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.SaveBlock(0, 0, data); err != nil {
		t.Fatalf("SaveBlock: %v", err)
	}

	ok, err := s.VerifyPiece(0, 16384)
	if err != nil {
		t.Fatalf("VerifyPiece: %v", err)
	}
	if !ok {
		t.Error("expected piece to verify")
	}

	on, err := os.ReadFile(filepath.Join(dir, "foo.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(on) != 16384 {
		t.Errorf("file length = %d, want 16384", len(on))
	}
}

func TestMultiFileBoundaryBlock(t *testing.T) {
	dir := t.TempDir()

	data := make([]byte, 16384)
	for i := range data {
		data[i] = byte(i)
	}
	hash := sha1.Sum(data)

	m := &metainfo.Metainfo{
		Info: metainfo.Info{
			Name:        "dir",
			PieceLength: 16384,
			Files: []metainfo.File{
				{Length: 10000, Path: []string{"a.bin"}},
				{Length: 6384, Path: []string{"b.bin"}},
			},
		},
		PieceHashes: [][20]byte{hash},
	}

	s, err := Open(m, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.SaveBlock(0, 0, data); err != nil {
		t.Fatalf("SaveBlock: %v", err)
	}

	a, err := os.ReadFile(filepath.Join(dir, "dir", "a.bin"))
	if err != nil {
		t.Fatalf("ReadFile a: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "dir", "b.bin"))
	if err != nil {
		t.Fatalf("ReadFile b: %v", err)
	}

	if len(a) != 10000 || len(b) != 6384 {
		t.Fatalf("file lengths = %d, %d", len(a), len(b))
	}
	for i := 0; i < 10000; i++ {
		if a[i] != data[i] {
			t.Fatalf("a[%d] = %d, want %d", i, a[i], data[i])
		}
	}
	for i := 0; i < 6384; i++ {
		if b[i] != data[10000+i] {
			t.Fatalf("b[%d] = %d, want %d", i, b[i], data[10000+i])
		}
	}
}

func TestVerifyPieceMismatch(t *testing.T) {
	dir := t.TempDir()
	hash := sha1.Sum([]byte("expected contents padded to piece length................"))

	m := &metainfo.Metainfo{
		Info: metainfo.Info{
			Name:        "foo.bin",
			PieceLength: 64,
			Length:      64,
		},
		PieceHashes: [][20]byte{hash},
	}

	s, err := Open(m, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.SaveBlock(0, 0, make([]byte, 64)); err != nil {
		t.Fatalf("SaveBlock: %v", err)
	}

	ok, err := s.VerifyPiece(0, 64)
	if err != nil {
		t.Fatalf("VerifyPiece: %v", err)
	}
	if ok {
		t.Error("expected verification to fail for mismatched content")
	}
}

// FileOffsetLaw checks that reading back the exact global range written by
// SaveBlock yields the same bytes.
func TestFileOffsetLaw(t *testing.T) {
	dir := t.TempDir()
	m := &metainfo.Metainfo{
		Info: metainfo.Info{
			Name:        "foo.bin",
			PieceLength: 1024,
			Length:      1024,
		},
		PieceHashes: [][20]byte{{}},
	}
	s, err := Open(m, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	b := []byte("hello world, this is a block of bytes")
	if err := s.SaveBlock(0, 100, b); err != nil {
		t.Fatalf("SaveBlock: %v", err)
	}

	out := make([]byte, len(b))
	if err := s.ReadRange(100, out); err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(out) != string(b) {
		t.Errorf("got %q, want %q", out, b)
	}
}

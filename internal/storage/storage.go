// Package storage maps piece/block coordinates onto an ordered list of
// on-disk files, persists received blocks, and verifies completed pieces
// against their expected SHA-1 hash.
package storage

import (
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/leech/internal/metainfo"
)

type file struct {
	f      *os.File
	path   string
	offset int64 // global byte offset of this file's first byte
	length int64
}

// Store is the file mapper: piece length, ordered file list, piece hashes.
type Store struct {
	pieceLen int64
	files    []*file
	hashes   [][20]byte
}

// Open creates the output directory tree and opens (creating as needed)
// every file the torrent describes, in the order the metainfo declares.
func Open(m *metainfo.Metainfo, outputDir string) (*Store, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir: %w", err)
	}

	var files []*file
	var offset int64

	if m.SingleFile() {
		f, err := openFile(filepath.Join(outputDir, m.Info.Name), m.Info.Length)
		if err != nil {
			return nil, err
		}
		files = append(files, &file{f: f, path: m.Info.Name, offset: 0, length: m.Info.Length})
	} else {
		for _, fi := range m.Info.Files {
			parts := append([]string{outputDir, m.Info.Name}, fi.Path...)
			path := filepath.Join(parts...)
			f, err := openFile(path, fi.Length)
			if err != nil {
				return nil, err
			}
			files = append(files, &file{f: f, path: path, offset: offset, length: fi.Length})
			offset += fi.Length
		}
	}

	return &Store{pieceLen: m.Info.PieceLength, files: files, hashes: m.PieceHashes}, nil
}

func openFile(path string, size int64) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: truncate %s: %w", path, err)
	}
	return f, nil
}

// Close closes every underlying file.
func (s *Store) Close() error {
	var first error
	for _, f := range s.files {
		if err := f.f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SaveBlock writes bytes at (pieceIndex, offsetInPiece), splitting the
// write across file boundaries as needed.
func (s *Store) SaveBlock(pieceIndex int, offsetInPiece int, data []byte) error {
	absStart := int64(pieceIndex)*s.pieceLen + int64(offsetInPiece)
	return s.writeAt(absStart, data)
}

// ReadRange reads len(buf) bytes starting at the given global offset,
// following the same file mapping as SaveBlock.
func (s *Store) ReadRange(absStart int64, buf []byte) error {
	return s.readAt(absStart, buf)
}

func (s *Store) writeAt(absStart int64, data []byte) error {
	absEnd := absStart + int64(len(data))

	for _, f := range s.files {
		fileStart := f.offset
		fileEnd := f.offset + f.length

		overlapStart := max64(absStart, fileStart)
		overlapEnd := min64(absEnd, fileEnd)
		if overlapStart >= overlapEnd {
			continue
		}

		writeLen := overlapEnd - overlapStart
		offsetInFile := overlapStart - fileStart
		offsetInData := overlapStart - absStart

		n, err := f.f.WriteAt(data[offsetInData:offsetInData+writeLen], offsetInFile)
		if err != nil {
			return fmt.Errorf("storage: write %s: %w", f.path, err)
		}
		if int64(n) != writeLen {
			return fmt.Errorf("storage: short write to %s: wrote %d, want %d", f.path, n, writeLen)
		}
	}

	return nil
}

func (s *Store) readAt(absStart int64, buf []byte) error {
	absEnd := absStart + int64(len(buf))

	for _, f := range s.files {
		fileStart := f.offset
		fileEnd := f.offset + f.length

		overlapStart := max64(absStart, fileStart)
		overlapEnd := min64(absEnd, fileEnd)
		if overlapStart >= overlapEnd {
			continue
		}

		readLen := overlapEnd - overlapStart
		offsetInFile := overlapStart - fileStart
		offsetInBuf := overlapStart - absStart

		n, err := f.f.ReadAt(buf[offsetInBuf:offsetInBuf+readLen], offsetInFile)
		if err != nil {
			return fmt.Errorf("storage: read %s: %w", f.path, err)
		}
		if int64(n) != readLen {
			return fmt.Errorf("storage: short read from %s: read %d, want %d", f.path, n, readLen)
		}
	}

	return nil
}

// VerifyPiece reads pieceIndex's full byte range back from disk and
// compares its SHA-1 against the expected hash.
func (s *Store) VerifyPiece(pieceIndex int, length int) (bool, error) {
	if pieceIndex < 0 || pieceIndex >= len(s.hashes) {
		return false, fmt.Errorf("storage: piece index %d out of range", pieceIndex)
	}

	buf := make([]byte, length)
	absStart := int64(pieceIndex) * s.pieceLen
	if err := s.readAt(absStart, buf); err != nil {
		return false, err
	}

	return sha1.Sum(buf) == s.hashes[pieceIndex], nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Package metainfo parses bencoded .torrent files into the structures the
// rest of the client needs: announce URLs, the piece hash list, and the
// file layout.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"

	"github.com/jackpal/bencode-go"
)

var (
	ErrTopLevelNotDict = errors.New("metainfo: top level value is not a dict")
	ErrAnnounceMissing = errors.New("metainfo: announce missing")
	ErrInfoMissing     = errors.New("metainfo: info dict missing")
	ErrNameMissing     = errors.New("metainfo: info.name missing")
	ErrPieceLenInvalid = errors.New("metainfo: info.piece length missing or non-positive")
	ErrPiecesInvalid   = errors.New("metainfo: info.pieces length is not a multiple of 20")
	ErrLayoutInvalid   = errors.New("metainfo: info dict has neither length nor files")
)

// File describes one file within a multi-file torrent.
type File struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// Info is the decoded `info` dictionary.
type Info struct {
	Name        string `bencode:"name"`
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Private     int64  `bencode:"private,omitempty"`
	Length      int64  `bencode:"length,omitempty"`
	Files       []File `bencode:"files,omitempty"`
}

// raw mirrors the top-level dict shape for struct-tag decoding. AnnounceList
// and the informational fields are optional.
type raw struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list,omitempty"`
	Comment      string     `bencode:"comment,omitempty"`
	CreatedBy    string     `bencode:"created by,omitempty"`
	CreationDate int64      `bencode:"creation date,omitempty"`
	Info         Info       `bencode:"info"`
}

// Metainfo is the fully parsed .torrent file.
type Metainfo struct {
	Announce     string
	AnnounceList [][]string
	Comment      string
	CreatedBy    string
	CreationDate int64
	Info         Info
	PieceHashes  [][20]byte
	InfoHash     [20]byte
}

// SingleFile reports whether this torrent describes one file (as opposed
// to a multi-file directory layout).
func (m *Metainfo) SingleFile() bool { return len(m.Info.Files) == 0 }

// TotalSize is the sum of all file lengths described by the torrent.
func (m *Metainfo) TotalSize() int64 {
	if m.SingleFile() {
		return m.Info.Length
	}
	var total int64
	for _, f := range m.Info.Files {
		total += f.Length
	}
	return total
}

// Parse decodes a .torrent file's bytes into a Metainfo.
func Parse(data []byte) (*Metainfo, error) {
	var r raw
	if err := bencode.Unmarshal(bytes.NewReader(data), &r); err != nil {
		return nil, fmt.Errorf("metainfo: decode: %w", err)
	}

	if r.Announce == "" {
		return nil, ErrAnnounceMissing
	}
	if r.Info.Name == "" {
		return nil, ErrNameMissing
	}
	if r.Info.PieceLength <= 0 {
		return nil, ErrPieceLenInvalid
	}
	if len(r.Info.Pieces)%sha1.Size != 0 {
		return nil, ErrPiecesInvalid
	}
	if r.Info.Length <= 0 && len(r.Info.Files) == 0 {
		return nil, ErrLayoutInvalid
	}

	infoBytes, err := extractInfoBytes(data)
	if err != nil {
		return nil, fmt.Errorf("metainfo: locating info dict: %w", err)
	}

	m := &Metainfo{
		Announce:     r.Announce,
		AnnounceList: r.AnnounceList,
		Comment:      r.Comment,
		CreatedBy:    r.CreatedBy,
		CreationDate: r.CreationDate,
		Info:         r.Info,
		InfoHash:     sha1.Sum(infoBytes),
	}

	hashes := []byte(r.Info.Pieces)
	for i := 0; i+sha1.Size <= len(hashes); i += sha1.Size {
		var h [20]byte
		copy(h[:], hashes[i:i+sha1.Size])
		m.PieceHashes = append(m.PieceHashes, h)
	}

	return m, nil
}

// extractInfoBytes scans the raw top-level bencoded dict for the literal
// "4:info" key and returns the exact bytes of its value, by walking
// balanced d/l/e delimiters and length-prefixed strings rather than
// re-encoding a parsed structure. Re-encoding from a decoded map risks
// producing different bytes (and thus a different SHA-1) than the source
// file if key order or integer formatting differs from canonical form.
func extractInfoBytes(data []byte) ([]byte, error) {
	if len(data) == 0 || data[0] != 'd' {
		return nil, ErrTopLevelNotDict
	}

	pos := 1
	for pos < len(data) && data[pos] != 'e' {
		key, next, err := readBencodeString(data, pos)
		if err != nil {
			return nil, err
		}
		pos = next

		valueStart := pos
		valueEnd, err := skipBencodeValue(data, pos)
		if err != nil {
			return nil, err
		}

		if string(key) == "info" {
			return data[valueStart:valueEnd], nil
		}

		pos = valueEnd
	}

	return nil, ErrInfoMissing
}

// readBencodeString reads a length-prefixed byte string starting at pos and
// returns its content and the offset just past it.
func readBencodeString(data []byte, pos int) ([]byte, int, error) {
	colon := bytes.IndexByte(data[pos:], ':')
	if colon < 0 {
		return nil, 0, errors.New("metainfo: malformed bencode string")
	}
	colon += pos

	var length int
	if _, err := fmt.Sscanf(string(data[pos:colon]), "%d", &length); err != nil {
		return nil, 0, fmt.Errorf("metainfo: malformed string length: %w", err)
	}
	start := colon + 1
	end := start + length
	if length < 0 || end > len(data) {
		return nil, 0, errors.New("metainfo: string length out of range")
	}
	return data[start:end], end, nil
}

// skipBencodeValue returns the offset just past the bencoded value starting
// at pos (one of dict/list/integer/string).
func skipBencodeValue(data []byte, pos int) (int, error) {
	if pos >= len(data) {
		return 0, errors.New("metainfo: unexpected end of data")
	}

	switch data[pos] {
	case 'd', 'l':
		pos++
		for pos < len(data) && data[pos] != 'e' {
			if data[pos] == 'l' || data[pos] == 'd' {
				next, err := skipBencodeValue(data, pos)
				if err != nil {
					return 0, err
				}
				pos = next
				continue
			}
			if data[pos] == 'i' {
				next, err := skipBencodeValue(data, pos)
				if err != nil {
					return 0, err
				}
				pos = next
				continue
			}
			// dict keys and list/string elements are length-prefixed strings.
			_, next, err := readBencodeString(data, pos)
			if err != nil {
				return 0, err
			}
			pos = next
		}
		if pos >= len(data) {
			return 0, errors.New("metainfo: unterminated dict/list")
		}
		return pos + 1, nil

	case 'i':
		end := bytes.IndexByte(data[pos:], 'e')
		if end < 0 {
			return 0, errors.New("metainfo: unterminated integer")
		}
		return pos + end + 1, nil

	default:
		_, next, err := readBencodeString(data, pos)
		return next, err
	}
}

package tracker

import (
	"fmt"
	"net/netip"
	"time"
)

// Event is the lifecycle event reported on an announce, per the tracker
// HTTP protocol's "event" parameter.
type Event int

const (
	EventNone Event = iota
	EventStarted
	EventStopped
	EventCompleted
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventCompleted:
		return "completed"
	default:
		return ""
	}
}

// AnnounceParams is everything a single announce call reports about this
// client's progress and identity.
type AnnounceParams struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	NumWant    int
	Event      Event
	TrackerID  string
}

// AnnounceResponse is the decoded result of a successful announce.
type AnnounceResponse struct {
	TrackerID   string
	Interval    time.Duration
	MinInterval time.Duration
	Seeders     int64
	Leechers    int64
	Peers       []netip.AddrPort
}

// bencodeResponse mirrors the top-level dict of a tracker announce reply.
// Peers is typed `any` because it is either a compact byte string or a
// list of peer dicts, depending on the tracker.
type bencodeResponse struct {
	FailureReason string `bencode:"failure reason"`
	WarningReason string `bencode:"warning reason"`
	Interval      int    `bencode:"interval"`
	MinInterval   int    `bencode:"min interval"`
	TrackerID     string `bencode:"tracker id"`
	Complete      int    `bencode:"complete"`
	Incomplete    int    `bencode:"incomplete"`
	Peers         any    `bencode:"peers"`
}

func (r *bencodeResponse) toAnnounceResponse() (*AnnounceResponse, error) {
	if r.FailureReason != "" {
		return nil, fmt.Errorf("tracker: announce failure: %s", r.FailureReason)
	}

	peers, err := decodePeers(r.Peers)
	if err != nil {
		return nil, err
	}

	return &AnnounceResponse{
		TrackerID:   r.TrackerID,
		Interval:    time.Duration(r.Interval) * time.Second,
		MinInterval: time.Duration(r.MinInterval) * time.Second,
		Seeders:     int64(r.Complete),
		Leechers:    int64(r.Incomplete),
		Peers:       peers,
	}, nil
}

package tracker

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	bencode "github.com/jackpal/bencode-go"

	"github.com/go-resty/resty/v2"
)

// httpClient announces to a single HTTP/HTTPS tracker URL.
type httpClient struct {
	base   string
	client *resty.Client
}

func newHTTPClient(announceURL string) *httpClient {
	return &httpClient{
		base: announceURL,
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetRetryCount(0),
	}
}

func (c *httpClient) announce(ctx context.Context, p AnnounceParams) (*AnnounceResponse, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, fmt.Errorf("tracker: bad announce url %q: %w", c.base, err)
	}

	req := c.client.R().SetContext(ctx).
		SetQueryParam("info_hash", string(p.InfoHash[:])).
		SetQueryParam("peer_id", string(p.PeerID[:])).
		SetQueryParam("port", strconv.Itoa(int(p.Port))).
		SetQueryParam("uploaded", strconv.FormatUint(p.Uploaded, 10)).
		SetQueryParam("downloaded", strconv.FormatUint(p.Downloaded, 10)).
		SetQueryParam("left", strconv.FormatUint(p.Left, 10)).
		SetQueryParam("compact", "1")

	if p.NumWant > 0 {
		req.SetQueryParam("numwant", strconv.Itoa(p.NumWant))
	}
	if p.Event != EventNone {
		req.SetQueryParam("event", p.Event.String())
	}
	if p.TrackerID != "" {
		req.SetQueryParam("trackerid", p.TrackerID)
	}

	resp, err := req.Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("tracker: announce %s: %w", u.Host, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("tracker: announce %s: status %d", u.Host, resp.StatusCode())
	}

	var decoded bencodeResponse
	if err := bencode.Unmarshal(bytes.NewReader(resp.Body()), &decoded); err != nil {
		return nil, fmt.Errorf("tracker: decode response from %s: %w", u.Host, err)
	}

	return decoded.toAnnounceResponse()
}

// Package tracker implements the HTTP tracker announce protocol: building
// the announce request, decoding the bencoded response, and falling back
// across an announce-list's tiers per BEP 12 ordering (try every tracker
// in a tier before moving to the next tier; a tracker that answers is
// promoted to the front of its tier for next time).
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/example/leech/internal/retry"
)

// Client announces across a tiered list of tracker URLs.
type Client struct {
	mu      sync.Mutex
	tiers   [][]string
	clients map[string]*httpClient
}

// New builds a Client from a single announce URL plus an optional
// announce-list (BEP 12). Unsupported schemes (anything but http/https) are
// dropped with no error, since this client has no UDP tracker support.
func New(announce string, announceList [][]string) (*Client, error) {
	tiers := buildTiers(announce, announceList)
	if len(tiers) == 0 {
		return nil, errors.New("tracker: no usable http/https announce urls")
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for _, tier := range tiers {
		r.Shuffle(len(tier), func(a, b int) { tier[a], tier[b] = tier[b], tier[a] })
	}

	return &Client{tiers: tiers, clients: make(map[string]*httpClient)}, nil
}

func buildTiers(announce string, announceList [][]string) [][]string {
	var tiers [][]string

	if s := strings.TrimSpace(announce); isHTTP(s) {
		tiers = append(tiers, []string{s})
	}

	for _, tier := range announceList {
		var out []string
		for _, s := range tier {
			if isHTTP(s) {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			tiers = append(tiers, out)
		}
	}

	return tiers
}

func isHTTP(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

func (c *Client) clientFor(trackerURL string) *httpClient {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[trackerURL]; ok {
		return cl
	}
	cl := newHTTPClient(trackerURL)
	c.clients[trackerURL] = cl
	return cl
}

func (c *Client) promote(tierIdx, urlIdx int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if urlIdx <= 0 {
		return
	}
	tier := c.tiers[tierIdx]
	u := tier[urlIdx]
	copy(tier[1:urlIdx+1], tier[0:urlIdx])
	tier[0] = u
}

func (c *Client) snapshotTiers() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([][]string, len(c.tiers))
	for i, tier := range c.tiers {
		out[i] = append([]string(nil), tier...)
	}
	return out
}

// Announce tries every tracker URL, tier by tier, retrying each individual
// tracker with capped exponential backoff before moving on. It succeeds as
// soon as any tracker answers.
func (c *Client) Announce(ctx context.Context, p AnnounceParams) (*AnnounceResponse, error) {
	tiers := c.snapshotTiers()

	var lastErr error
	for tierIdx, tier := range tiers {
		for urlIdx, trackerURL := range tier {
			cl := c.clientFor(trackerURL)

			var resp *AnnounceResponse
			err := retry.Do(ctx, func(ctx context.Context) error {
				r, aerr := cl.announce(ctx, p)
				if aerr != nil {
					return aerr
				}
				resp = r
				return nil
			}, retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Second), retry.WithMaxDelay(30*time.Second))

			if err != nil {
				lastErr = err
				continue
			}

			c.promote(tierIdx, urlIdx)
			return resp, nil
		}
	}

	if lastErr == nil {
		lastErr = errors.New("tracker: no tiers configured")
	}
	return nil, fmt.Errorf("tracker: all trackers failed: %w", lastErr)
}

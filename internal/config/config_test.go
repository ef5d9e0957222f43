package config

import (
	"bytes"
	"testing"
)

func TestDefaultGeneratesDistinctClientIDs(t *testing.T) {
	a := Default()
	b := Default()

	if bytes.Equal(a.ClientID[:], b.ClientID[:]) {
		t.Error("expected two Default() calls to generate distinct client ids")
	}

	prefix := []byte("-LE0100-")
	if !bytes.Equal(a.ClientID[:len(prefix)], prefix) {
		t.Errorf("expected client id prefix %q, got %q", prefix, a.ClientID[:len(prefix)])
	}
}

func TestDefaultSaneTimeouts(t *testing.T) {
	c := Default()
	if c.DialTimeout <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		t.Error("expected positive timeouts")
	}
	if c.MinPeers <= 0 || c.NumWant <= 0 {
		t.Error("expected positive peer counts")
	}
}

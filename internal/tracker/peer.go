package tracker

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// strideV4 is the width of one compact peer record: 4 bytes of IPv4
// address followed by 2 bytes of big-endian port. The tracker HTTP
// protocol's compact format (the "peers" key as a raw byte string) is
// defined only in this IPv4 form; a tracker wanting to hand out IPv6
// peers uses the dictionary form instead, which carries an explicit "ip"
// string and so never needs stride-based guessing.
const strideV4 = 6

// decodePeers accepts either compact form (a raw byte string of fixed-width
// IP:port records) or the older dict-list form, as returned by the "peers"
// key of a tracker announce response.
func decodePeers(v any) ([]netip.AddrPort, error) {
	switch t := v.(type) {
	case string:
		return decodeCompact([]byte(t))
	case []byte:
		return decodeCompact(t)
	case []any:
		return decodeDictPeers(t)
	default:
		return nil, fmt.Errorf("tracker: unsupported peers type %T", v)
	}
}

func decodeCompact(data []byte) ([]netip.AddrPort, error) {
	if len(data)%strideV4 != 0 {
		return nil, fmt.Errorf("tracker: compact peers length %d is not a multiple of %d", len(data), strideV4)
	}

	n := len(data) / strideV4
	out := make([]netip.AddrPort, n)
	for i, off := 0, 0; i < n; i, off = i+1, off+strideV4 {
		chunk := data[off : off+strideV4]
		a := netip.AddrFrom4([4]byte{chunk[0], chunk[1], chunk[2], chunk[3]})
		p := binary.BigEndian.Uint16(chunk[4:6])
		out[i] = netip.AddrPortFrom(a, p)
	}
	return out, nil
}

func decodeDictPeers(list []any) ([]netip.AddrPort, error) {
	peers := make([]netip.AddrPort, 0, len(list))

	for i, it := range list {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tracker: peer[%d] not a dict", i)
		}

		var addr netip.Addr
		switch ipv := m["ip"].(type) {
		case string:
			a, err := netip.ParseAddr(ipv)
			if err != nil {
				return nil, fmt.Errorf("tracker: peer[%d] bad ip %q: %w", i, ipv, err)
			}
			addr = a
		default:
			return nil, fmt.Errorf("tracker: peer[%d] unsupported ip type %T", i, m["ip"])
		}

		port, ok := m["port"].(int64)
		if !ok || port < 1 || port > 65535 {
			return nil, fmt.Errorf("tracker: peer[%d] invalid port %v", i, m["port"])
		}

		peers = append(peers, netip.AddrPortFrom(addr, uint16(port)))
	}

	return peers, nil
}

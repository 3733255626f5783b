// Package proxyproto implements the handshake for the PROXY protocol
// version 1, as described in
// https://www.haproxy.org/download/1.8/doc/proxy-protocol.txt, plus a
// trusted-source gate so the handshake is only honored from peers the
// embedder actually configured as a proxy.
package proxyproto

import (
	"bufio"
	"errors"
	"net"
	"strconv"
	"strings"
)

var (
	errInvalidProtoID = errors.New("invalid protocol identifier")
	errUnkProtocol    = errors.New("unknown protocol")
	errInvalidFields  = errors.New("invalid number of fields")
	errInvalidSrcIP   = errors.New("invalid src ip")
	errInvalidDstIP   = errors.New("invalid dst ip")
	errInvalidSrcPort = errors.New("invalid src port")
	errInvalidDstPort = errors.New("invalid dst port")
)

// Handshake performs the HAProxy protocol v1 handshake on the given reader,
// which is expected to be backed by a network connection.
// It returns the source and destination addresses, or an error if the
// handshake could not complete.
// Note that any timeouts or limits must be set by the caller on the
// underlying connection, this is helper only to perform the handshake.
func Handshake(r *bufio.Reader) (src, dst net.Addr, err error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, nil, err
	}

	fields := strings.Fields(line)

	if len(fields) < 2 || fields[0] != "PROXY" {
		return nil, nil, errInvalidProtoID
	}

	switch fields[1] {
	case "TCP4", "TCP6":
		// Allowed to continue, nothing to do.
	default:
		return nil, nil, errUnkProtocol
	}

	if len(fields) != 6 {
		return nil, nil, errInvalidFields
	}

	srcIP := net.ParseIP(fields[2])
	if srcIP == nil {
		return nil, nil, errInvalidSrcIP
	}

	dstIP := net.ParseIP(fields[3])
	if dstIP == nil {
		return nil, nil, errInvalidDstIP
	}

	srcPort, err := strconv.ParseUint(fields[4], 10, 16)
	if err != nil {
		return nil, nil, errInvalidSrcPort
	}

	dstPort, err := strconv.ParseUint(fields[5], 10, 16)
	if err != nil {
		return nil, nil, errInvalidDstPort
	}

	src = &net.TCPAddr{IP: srcIP, Port: int(srcPort)}
	dst = &net.TCPAddr{IP: dstIP, Port: int(dstPort)}
	return src, dst, nil
}

// TrustedPeers holds a list of CIDR ranges that are trusted to speak the
// PROXY protocol header on a newly accepted connection. Connections from
// any other peer must not have Handshake called on them, since doing so
// would let an untrusted client spoof its own source address.
type TrustedPeers struct {
	nets []*net.IPNet
}

// NewTrustedPeers parses a list of CIDR strings (e.g. "10.0.0.0/8",
// "::1/128") into a TrustedPeers gate. An empty list trusts nothing.
func NewTrustedPeers(cidrs []string) (*TrustedPeers, error) {
	tp := &TrustedPeers{}
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		tp.nets = append(tp.nets, n)
	}
	return tp, nil
}

// Trusts reports whether addr falls within one of the configured CIDR
// ranges.
func (tp *TrustedPeers) Trusts(addr net.Addr) bool {
	if tp == nil {
		return false
	}

	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return false
	}

	for _, n := range tp.nets {
		if n.Contains(tcpAddr.IP) {
			return true
		}
	}
	return false
}

// HandshakeIfTrusted performs the PROXY protocol handshake only if
// peerAddr is a trusted source, per tp. If the peer is not trusted, it
// returns peerAddr unchanged and does not consume anything from r: callers
// must not call this when the connection is not known to be line-buffered
// by r, since refusing the handshake means the bytes the client sent are
// still ordinary connection data.
func HandshakeIfTrusted(tp *TrustedPeers, peerAddr net.Addr, r *bufio.Reader) (src, dst net.Addr, err error) {
	if !tp.Trusts(peerAddr) {
		return peerAddr, nil, nil
	}
	return Handshake(r)
}

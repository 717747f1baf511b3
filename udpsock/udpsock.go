// Package udpsock implements the Berkeley-style UDP socket API described in
// spec.md §4.7: bind, connect, send, send_to and recv_from, backed by a
// process-wide socket table.
//
// Grounded on the teacher's per-connection locking discipline
// (soypat/dgrams/tcpctl/connstate.go: one mutex per connection, no global
// lock held during I/O) and on spec.md §9's explicit redesign of the
// original's global writer handle: Bind takes an explicit EgressWriter
// instead of reaching into shared mutable state.
package udpsock

import (
	"container/list"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/vela-net/tapstack"
)

// Sentinel error kinds from spec.md §7. Use errors.Is to compare.
var (
	ErrInvalidInput = errors.New("udpsock: invalid input")
	ErrAddrInUse    = errors.New("udpsock: address in use")
	ErrNotConnected = errors.New("udpsock: not connected")
	ErrStaleSocket  = errors.New("udpsock: stale socket")
)

// MaxBufferDepth is the default maximum number of queued received
// datagrams per socket, per spec.md §6.
const MaxBufferDepth = 10000

// Identifier is the "A.B.C.D:port" string used as a socket table key.
type Identifier string

func identifierFor(addr tapstack.ProtocolAddr, port uint16) Identifier {
	return Identifier(fmt.Sprintf("%s:%d", addr, port))
}

// EgressWriter is the IP egress queue handle a Socket uses to enqueue
// outbound UDP responses. netstack.Stack implements this.
type EgressWriter interface {
	EnqueueIP(payload []byte, protocol uint8, header tapstack.IPv4Header)
}

// SourceInfo identifies where a received datagram came from, as returned by
// RecvFrom and consumed by SendTo to reply to the originator.
type SourceInfo struct {
	IPHeader   tapstack.IPv4Header
	SourcePort uint16
}

type peer struct {
	addr tapstack.ProtocolAddr
	port uint16
}

type queuedDatagram struct {
	payload []byte
	src     SourceInfo
}

// Socket is a bound UDP endpoint: its receive buffer, bound address,
// optional connected peer, and a handle to the IP egress queue.
type Socket struct {
	mu         sync.Mutex
	cond       *sync.Cond
	identifier Identifier
	localAddr  tapstack.ProtocolAddr
	localPort  uint16
	buffer     *list.List // of queuedDatagram, FIFO: PushBack, Remove(Front)
	maxDepth   int
	egress     EgressWriter
	connected  *peer
}

// Table is the process-wide, read-mostly map from Identifier to Socket.
type Table struct {
	mu       sync.RWMutex
	sockets  map[Identifier]*Socket
	maxDepth int
}

// NewTable constructs an empty socket table with the default per-socket
// receive buffer depth. Use SetMaxBufferDepth to override it.
func NewTable() *Table {
	return &Table{sockets: make(map[Identifier]*Socket), maxDepth: MaxBufferDepth}
}

// SetMaxBufferDepth overrides the receive buffer depth newly bound sockets
// are given. It has no effect on sockets already bound.
func (t *Table) SetMaxBufferDepth(depth int) { t.maxDepth = depth }

// Bind parses addr as "A.B.C.D:port", rejecting IPv6 with ErrInvalidInput,
// and registers a fresh Socket under its identifier, failing with
// ErrAddrInUse if one is already bound there.
func (t *Table) Bind(addr string, egress EgressWriter) (*Socket, error) {
	ipAddr, port, err := parseIPv4Addr(addr)
	if err != nil {
		return nil, err
	}
	identifier := identifierFor(ipAddr, port)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.sockets[identifier]; exists {
		return nil, fmt.Errorf("udpsock: bind %s: %w", addr, ErrAddrInUse)
	}
	s := &Socket{
		identifier: identifier,
		localAddr:  ipAddr,
		localPort:  port,
		buffer:     list.New(),
		maxDepth:   t.maxDepth,
		egress:     egress,
	}
	s.cond = sync.NewCond(&s.mu)
	t.sockets[identifier] = s
	return s, nil
}

// Lookup returns the socket bound to identifier, or ErrStaleSocket if none
// is registered. The ingress dispatch path uses this to deliver inbound
// datagrams by destination identifier.
func (t *Table) Lookup(identifier Identifier) (*Socket, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sockets[identifier]
	if !ok {
		return nil, ErrStaleSocket
	}
	return s, nil
}

// Deliver appends a received datagram to the socket bound to dst, or drops
// it silently if no such socket exists (spec.md §4.6) or its buffer is full
// (spec.md §7). It reports whether the datagram was delivered, so callers
// can count drops.
func (t *Table) Deliver(dst tapstack.ProtocolAddr, dstPort uint16, payload []byte, srcHeader tapstack.IPv4Header, srcPort uint16) bool {
	s, err := t.Lookup(identifierFor(dst, dstPort))
	if err != nil {
		return false
	}
	return s.enqueueReceived(payload, SourceInfo{IPHeader: srcHeader, SourcePort: srcPort})
}

func (s *Socket) enqueueReceived(payload []byte, src SourceInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer.Len() >= s.maxDepth {
		return false
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.buffer.PushBack(queuedDatagram{payload: cp, src: src})
	s.cond.Signal()
	return true
}

// Identifier returns the socket's table key.
func (s *Socket) Identifier() Identifier { return s.identifier }

// LocalAddr returns the socket's bound IPv4 address and port.
func (s *Socket) LocalAddr() (tapstack.ProtocolAddr, uint16) { return s.localAddr, s.localPort }

// Connect sets the socket's connected peer. Re-assignment is idempotent, per
// spec.md §4.7.
func (s *Socket) Connect(addr string) error {
	ipAddr, port, err := parseIPv4Addr(addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = &peer{addr: ipAddr, port: port}
	return nil
}

// RecvFrom blocks while the receive buffer is empty, then pops the
// oldest-received datagram (FIFO, per the redesign of the original's LIFO
// pop flagged in spec.md §9), copies up to len(buf) bytes of its payload
// into buf, and returns the full received length plus source information
// for a subsequent SendTo.
func (s *Socket) RecvFrom(buf []byte) (n int, src SourceInfo, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.buffer.Len() == 0 {
		s.cond.Wait()
	}
	front := s.buffer.Remove(s.buffer.Front()).(queuedDatagram)

	received := len(front.payload)
	copyLen := received
	if len(buf) < copyLen {
		copyLen = len(buf)
	}
	copy(buf[:copyLen], front.payload[:copyLen])
	return received, front.src, nil
}

// Send transmits buf to the socket's connected peer, failing with
// ErrNotConnected if Connect was never called.
func (s *Socket) Send(buf []byte) (int, error) {
	s.mu.Lock()
	connected := s.connected
	localAddr, localPort := s.localAddr, s.localPort
	s.mu.Unlock()

	if connected == nil {
		return 0, fmt.Errorf("udpsock: send on %s: %w", s.identifier, ErrNotConnected)
	}
	packet := tapstack.EncodeUDPDatagram(localPort, connected.port, buf, localAddr, connected.addr)
	header := tapstack.MakeUnfragmentedIPHeader(localAddr, connected.addr, tapstack.ProtoUDP, uint16(len(packet)))
	s.egress.EnqueueIP(packet, tapstack.ProtoUDP, header)
	return len(buf), nil
}

// SendTo replies to the originator of a previously received datagram,
// reusing the source IP header src.IPHeader supplied by RecvFrom.
func (s *Socket) SendTo(buf []byte, src SourceInfo) (int, error) {
	s.mu.Lock()
	localAddr, localPort := s.localAddr, s.localPort
	s.mu.Unlock()

	dstAddr := src.IPHeader.Source
	dstPort := src.SourcePort
	packet := tapstack.EncodeUDPDatagram(localPort, dstPort, buf, localAddr, dstAddr)
	header := tapstack.MakeUnfragmentedIPHeader(localAddr, dstAddr, tapstack.ProtoUDP, uint16(len(packet)))
	s.egress.EnqueueIP(packet, tapstack.ProtoUDP, header)
	return len(buf), nil
}

// parseIPv4Addr parses "A.B.C.D:port", rejecting IPv6 addresses and
// anything net.SplitHostPort/netip can't resolve as ErrInvalidInput.
func parseIPv4Addr(addr string) (tapstack.ProtocolAddr, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return tapstack.ProtocolAddr{}, 0, fmt.Errorf("udpsock: parse %q: %w: %v", addr, ErrInvalidInput, err)
	}
	ipAddr, err := netip.ParseAddr(host)
	if err != nil || !ipAddr.Is4() {
		return tapstack.ProtocolAddr{}, 0, fmt.Errorf("udpsock: %q is not an IPv4 address: %w", addr, ErrInvalidInput)
	}
	ap, err := netip.ParseAddrPort(net.JoinHostPort(host, portStr))
	if err != nil {
		return tapstack.ProtocolAddr{}, 0, fmt.Errorf("udpsock: parse %q: %w", addr, ErrInvalidInput)
	}
	return ipAddr.As4(), ap.Port(), nil
}

package udpsock_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vela-net/tapstack"
	"github.com/vela-net/tapstack/udpsock"
)

type capturedPacket struct {
	payload  []byte
	protocol uint8
	header   tapstack.IPv4Header
}

type fakeEgress struct {
	mu  sync.Mutex
	out []capturedPacket
}

func (f *fakeEgress) EnqueueIP(payload []byte, protocol uint8, header tapstack.IPv4Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.out = append(f.out, capturedPacket{payload: cp, protocol: protocol, header: header})
}

func (f *fakeEgress) last() capturedPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out[len(f.out)-1]
}

func TestBindThenDuplicateFails(t *testing.T) {
	table := udpsock.NewTable()
	egress := &fakeEgress{}

	if _, err := table.Bind("10.0.0.2:5055", egress); err != nil {
		t.Fatal(err)
	}
	_, err := table.Bind("10.0.0.2:5055", egress)
	if !errors.Is(err, udpsock.ErrAddrInUse) {
		t.Fatalf("err = %v, want ErrAddrInUse", err)
	}
}

func TestBindRejectsIPv6(t *testing.T) {
	table := udpsock.NewTable()
	_, err := table.Bind("[::1]:5055", &fakeEgress{})
	if !errors.Is(err, udpsock.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSendWithoutConnectFails(t *testing.T) {
	table := udpsock.NewTable()
	s, err := table.Bind("10.0.0.2:4055", &fakeEgress{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Send([]byte("x"))
	if !errors.Is(err, udpsock.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestSendAfterConnect(t *testing.T) {
	table := udpsock.NewTable()
	egress := &fakeEgress{}
	s, err := table.Bind("10.0.0.2:4055", egress)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Connect("10.0.0.2:5055"); err != nil {
		t.Fatal(err)
	}
	n, err := s.Send([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
	pkt := egress.last()
	if pkt.protocol != tapstack.ProtoUDP {
		t.Errorf("protocol = %d, want %d", pkt.protocol, tapstack.ProtoUDP)
	}
	if pkt.header.Destination != (tapstack.ProtocolAddr{10, 0, 0, 2}) {
		t.Errorf("header.Destination = %v", pkt.header.Destination)
	}
}

// Scenario 3 from spec.md §8.
func TestDeliverThenRecvFrom(t *testing.T) {
	table := udpsock.NewTable()
	s, err := table.Bind("10.0.0.2:5055", &fakeEgress{})
	if err != nil {
		t.Fatal(err)
	}

	srcHeader := tapstack.MakeUnfragmentedIPHeader(
		tapstack.ProtocolAddr{10, 0, 0, 1}, tapstack.ProtocolAddr{10, 0, 0, 2}, tapstack.ProtoUDP, 2)
	ok := table.Deliver(tapstack.ProtocolAddr{10, 0, 0, 2}, 5055, []byte("hi"), srcHeader, 4000)
	if !ok {
		t.Fatal("expected datagram to be delivered")
	}

	buf := make([]byte, 16)
	n, src, err := s.RecvFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || string(buf[:n]) != "hi" {
		t.Fatalf("n, buf = %d, %q", n, buf[:n])
	}
	if src.IPHeader.Source != (tapstack.ProtocolAddr{10, 0, 0, 1}) || src.SourcePort != 4000 {
		t.Fatalf("src = %+v", src)
	}
}

func TestRecvFromBlocksUntilDelivered(t *testing.T) {
	table := udpsock.NewTable()
	s, err := table.Bind("10.0.0.2:5055", &fakeEgress{})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 16)
		n, _, err := s.RecvFrom(buf)
		if err != nil || n != 1 {
			t.Errorf("RecvFrom = %d, %v", n, err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("RecvFrom returned before any datagram was delivered")
	case <-time.After(20 * time.Millisecond):
	}

	srcHeader := tapstack.MakeUnfragmentedIPHeader(
		tapstack.ProtocolAddr{10, 0, 0, 1}, tapstack.ProtocolAddr{10, 0, 0, 2}, tapstack.ProtoUDP, 1)
	table.Deliver(tapstack.ProtocolAddr{10, 0, 0, 2}, 5055, []byte("x"), srcHeader, 4000)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecvFrom did not wake after delivery")
	}
}

func TestRecvFromIsFIFO(t *testing.T) {
	table := udpsock.NewTable()
	s, err := table.Bind("10.0.0.2:5055", &fakeEgress{})
	if err != nil {
		t.Fatal(err)
	}
	srcHeader := tapstack.MakeUnfragmentedIPHeader(
		tapstack.ProtocolAddr{10, 0, 0, 1}, tapstack.ProtocolAddr{10, 0, 0, 2}, tapstack.ProtoUDP, 1)

	table.Deliver(tapstack.ProtocolAddr{10, 0, 0, 2}, 5055, []byte("first"), srcHeader, 4000)
	table.Deliver(tapstack.ProtocolAddr{10, 0, 0, 2}, 5055, []byte("second"), srcHeader, 4000)

	buf := make([]byte, 16)
	n, _, _ := s.RecvFrom(buf)
	if string(buf[:n]) != "first" {
		t.Fatalf("first RecvFrom = %q, want %q", buf[:n], "first")
	}
	n, _, _ = s.RecvFrom(buf)
	if string(buf[:n]) != "second" {
		t.Fatalf("second RecvFrom = %q, want %q", buf[:n], "second")
	}
}

func TestDeliverDropsWhenBufferFull(t *testing.T) {
	table := udpsock.NewTable()
	s, err := table.Bind("10.0.0.2:5055", &fakeEgress{})
	if err != nil {
		t.Fatal(err)
	}
	srcHeader := tapstack.MakeUnfragmentedIPHeader(
		tapstack.ProtocolAddr{10, 0, 0, 1}, tapstack.ProtocolAddr{10, 0, 0, 2}, tapstack.ProtoUDP, 1)

	for i := 0; i < udpsock.MaxBufferDepth; i++ {
		if !table.Deliver(tapstack.ProtocolAddr{10, 0, 0, 2}, 5055, []byte("x"), srcHeader, 4000) {
			t.Fatalf("delivery %d unexpectedly dropped", i)
		}
	}
	if table.Deliver(tapstack.ProtocolAddr{10, 0, 0, 2}, 5055, []byte("x"), srcHeader, 4000) {
		t.Fatal("expected delivery beyond max depth to be dropped")
	}
	_ = s
}

func TestDeliverToAbsentSocketDrops(t *testing.T) {
	table := udpsock.NewTable()
	srcHeader := tapstack.MakeUnfragmentedIPHeader(
		tapstack.ProtocolAddr{10, 0, 0, 1}, tapstack.ProtocolAddr{10, 0, 0, 2}, tapstack.ProtoUDP, 1)
	if table.Deliver(tapstack.ProtocolAddr{10, 0, 0, 2}, 9999, []byte("x"), srcHeader, 4000) {
		t.Fatal("expected delivery to an unbound identifier to be dropped")
	}
}

// Scenario 4 from spec.md §8.
func TestSecondBindToSameAddrReturnsAddrInUse(t *testing.T) {
	table := udpsock.NewTable()
	egress := &fakeEgress{}
	if _, err := table.Bind("10.0.0.2:5055", egress); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Bind("10.0.0.2:5055", egress); !errors.Is(err, udpsock.ErrAddrInUse) {
		t.Fatalf("err = %v, want ErrAddrInUse", err)
	}
}

// SendTo addresses its datagram to the source IP address and source port
// carried in the SourceInfo that RecvFrom returned.
func TestSendToUsesSourceIPHeader(t *testing.T) {
	table := udpsock.NewTable()
	egress := &fakeEgress{}
	s, err := table.Bind("10.0.0.2:5055", egress)
	if err != nil {
		t.Fatal(err)
	}
	src := udpsock.SourceInfo{
		IPHeader:   tapstack.MakeUnfragmentedIPHeader(tapstack.ProtocolAddr{10, 0, 0, 1}, tapstack.ProtocolAddr{10, 0, 0, 2}, tapstack.ProtoUDP, 2),
		SourcePort: 4000,
	}
	if _, err := s.SendTo([]byte("hi"), src); err != nil {
		t.Fatal(err)
	}
	pkt := egress.last()
	if pkt.header.Destination != (tapstack.ProtocolAddr{10, 0, 0, 1}) {
		t.Errorf("destination = %v, want 10.0.0.1", pkt.header.Destination)
	}
	gotDstPort := tapstack.Ntohs(pkt.payload[2:4])
	if gotDstPort != 4000 {
		t.Errorf("dst port = %d, want 4000", gotDstPort)
	}
}

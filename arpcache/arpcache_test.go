package arpcache_test

import (
	"testing"

	"github.com/vela-net/tapstack"
	"github.com/vela-net/tapstack/arpcache"
)

var (
	localHW   = tapstack.HwAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	localAddr = tapstack.ProtocolAddr{10, 0, 0, 2}
)

func TestLookupLocalAddrBypassesMap(t *testing.T) {
	c := arpcache.New(localHW, localAddr)
	hw, ok := c.Lookup(localAddr)
	if !ok || hw != localHW {
		t.Fatalf("Lookup(local) = %v, %v; want %v, true", hw, ok, localHW)
	}
}

func TestLookupUnresolved(t *testing.T) {
	c := arpcache.New(localHW, localAddr)
	_, ok := c.Lookup(tapstack.ProtocolAddr{10, 0, 0, 9})
	if ok {
		t.Fatal("expected unresolved address to report ok=false")
	}
}

func TestInsertThenLookup(t *testing.T) {
	c := arpcache.New(localHW, localAddr)
	peer := tapstack.ProtocolAddr{10, 0, 0, 1}
	peerHW := tapstack.HwAddr{1, 2, 3, 4, 5, 6}
	c.Insert(peer, peerHW)

	hw, ok := c.Lookup(peer)
	if !ok || hw != peerHW {
		t.Fatalf("Lookup(peer) = %v, %v; want %v, true", hw, ok, peerHW)
	}
}

// Scenario 1 from spec.md §8.
func TestHandleRequestForLocalAddr(t *testing.T) {
	c := arpcache.New(localHW, localAddr)
	remoteHW := tapstack.HwAddr{1, 1, 1, 1, 1, 1}
	remoteAddr := tapstack.ProtocolAddr{10, 0, 0, 1}

	req := tapstack.BuildARPRequest(localAddr, remoteHW, remoteAddr)
	reply, ok := c.HandleRequest(req)
	if !ok {
		t.Fatal("expected request for local address to be answered")
	}
	if reply.Operation != tapstack.ARPReply {
		t.Error("expected reply opcode")
	}
	if reply.SenderHW != localHW {
		t.Error("expected SHA == local hardware address")
	}
	if reply.SenderProto != localAddr || reply.TargetProto != remoteAddr {
		t.Error("expected sender/target protocol addresses swapped")
	}
}

// Per the ARP-TPA-trust redesign note: requests not targeted at the local
// address must be dropped, not answered.
func TestHandleRequestDropsWrongTarget(t *testing.T) {
	c := arpcache.New(localHW, localAddr)
	req := tapstack.BuildARPRequest(
		tapstack.ProtocolAddr{10, 0, 0, 200},
		tapstack.HwAddr{1, 1, 1, 1, 1, 1},
		tapstack.ProtocolAddr{10, 0, 0, 1},
	)
	_, ok := c.HandleRequest(req)
	if ok {
		t.Fatal("expected request for a foreign target to be dropped")
	}
}

func TestHandleReplyInsertsMapping(t *testing.T) {
	c := arpcache.New(localHW, localAddr)
	peer := tapstack.ProtocolAddr{10, 0, 0, 5}
	peerHW := tapstack.HwAddr{9, 9, 9, 9, 9, 9}

	reply := tapstack.ARPPacket{
		Operation:   tapstack.ARPReply,
		SenderHW:    peerHW,
		SenderProto: peer,
		TargetHW:    localHW,
		TargetProto: localAddr,
	}
	c.HandleReply(reply)

	hw, ok := c.Lookup(peer)
	if !ok || hw != peerHW {
		t.Fatalf("Lookup(peer) after reply = %v, %v; want %v, true", hw, ok, peerHW)
	}
}


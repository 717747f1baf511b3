package netstack

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vela-net/tapstack"
	"github.com/vela-net/tapstack/metrics"
	"github.com/vela-net/tapstack/udpsock"
)

// runIngress reads frames off the device in a loop, decodes them, and
// dispatches each to the appropriate handler. A read error after a
// deliberate Close is not fatal; any other read error is.
func (s *Stack) runIngress(ctx context.Context) error {
	buf := make([]byte, s.mtu+tapstack.SizeEthernetHeader)
	for {
		n, err := s.device.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("device read: %w", err)
		}
		frame, err := tapstack.DecodeEthernetFrame(buf[:n])
		if err != nil {
			s.log.Debug("dropping malformed frame", zap.Error(err))
			s.metrics.DropFrame(metrics.ReasonMalformedFrame)
			continue
		}
		s.dispatchFrame(frame)
	}
}

// dispatchFrame routes a decoded Ethernet frame to its ARP or IPv4 handler.
// It is also called directly by the link egress worker to reinject a
// loopback frame, bypassing the device entirely.
func (s *Stack) dispatchFrame(frame tapstack.EthernetFrame) {
	switch frame.EtherType {
	case tapstack.EtherTypeARP:
		s.handleARP(frame.Payload)
	case tapstack.EtherTypeIPv4:
		s.handleIPv4(frame.Payload)
	default:
		s.log.Debug("dropping unsupported ethertype", zap.Uint16("ethertype", uint16(frame.EtherType)))
		s.metrics.DropFrame(metrics.ReasonUnsupportedEther)
	}
}

// handleARP decodes an ARP packet and answers requests targeted at the
// stack's own address, learning the sender's mapping along the way.
func (s *Stack) handleARP(payload []byte) {
	pkt, err := tapstack.DecodeARPPacket(payload)
	if err != nil {
		s.log.Debug("dropping malformed arp packet", zap.Error(err))
		s.metrics.DropFrame(metrics.ReasonMalformedFrame)
		return
	}

	switch pkt.Operation {
	case tapstack.ARPReply:
		s.cache.HandleReply(pkt)
	case tapstack.ARPRequest:
		// Learn the requester's mapping opportunistically so a reply we
		// send back resolves immediately, without a further round trip.
		s.cache.Insert(pkt.SenderProto, pkt.SenderHW)

		reply, ok := s.cache.HandleRequest(pkt)
		if !ok {
			s.metrics.DropFrame(metrics.ReasonUntrustedARP)
			return
		}
		buf := make([]byte, tapstack.SizeARPv4Header)
		reply.Put(buf)
		s.enqueueLink(linkEgressItem{
			kind:      linkKindARP,
			target:    reply.TargetProto,
			etherType: tapstack.EtherTypeARP,
			payload:   buf,
		})
	}
}

// handleIPv4 decodes an IPv4 header and dispatches the payload by protocol
// number.
func (s *Stack) handleIPv4(buf []byte) {
	header, err := tapstack.DecodeIPv4Header(buf)
	if err != nil {
		s.log.Debug("dropping malformed ip packet", zap.Error(err))
		s.metrics.DropFrame(metrics.ReasonMalformedFrame)
		return
	}
	if int(header.TotalLength) > len(buf) {
		s.log.Debug("dropping truncated ip packet")
		s.metrics.DropFrame(metrics.ReasonMalformedFrame)
		return
	}
	body := buf[tapstack.SizeIPHeader:header.TotalLength]

	switch header.Protocol {
	case tapstack.ProtoICMP:
		s.handleICMP(header, body)
	case tapstack.ProtoUDP:
		s.handleUDP(header, body)
	default:
		s.log.Debug("dropping unsupported ip protocol", zap.Uint8("protocol", header.Protocol))
		s.metrics.DropFrame(metrics.ReasonUnsupportedProto)
	}
}

// handleICMP answers echo requests with a reply sourced from the stack's own
// address. The request's destination address is not checked.
func (s *Stack) handleICMP(header tapstack.IPv4Header, body []byte) {
	msg, err := tapstack.DecodeICMPMessage(body)
	if err != nil {
		s.log.Debug("dropping icmp message", zap.Error(err))
		s.metrics.DropFrame(metrics.ReasonChecksumMismatch)
		return
	}
	if msg.Type != tapstack.ICMPTypeEchoRequest {
		s.log.Debug("dropping unsupported icmp type", zap.Uint8("type", uint8(msg.Type)))
		s.metrics.DropFrame(metrics.ReasonUnsupportedProto)
		return
	}

	reply := tapstack.BuildEchoReply(msg)
	encoded := reply.Encode()
	replyHeader := tapstack.MakeUnfragmentedIPHeader(s.localIP, header.Source, tapstack.ProtoICMP, uint16(len(encoded)))
	replyHeader.TTL = s.ttl
	s.EnqueueIP(encoded, tapstack.ProtoICMP, replyHeader)
}

// handleUDP verifies and delivers a UDP datagram to a bound socket.
func (s *Stack) handleUDP(header tapstack.IPv4Header, body []byte) {
	dgram, err := tapstack.DecodeUDPDatagram(body)
	if err != nil {
		s.log.Debug("dropping malformed udp datagram", zap.Error(err))
		s.metrics.DropFrame(metrics.ReasonMalformedFrame)
		return
	}
	if !tapstack.VerifyUDPChecksum(body, header.Source, header.Destination) {
		s.log.Debug("dropping udp datagram: checksum mismatch")
		s.metrics.DropFrame(metrics.ReasonChecksumMismatch)
		return
	}

	delivered := s.Table.Deliver(header.Destination, dgram.DestinationPort, dgram.Payload, header, dgram.SourcePort)
	if !delivered {
		reason := metrics.ReasonNoMatchingSocket
		id := udpsock.Identifier(fmt.Sprintf("%s:%d", header.Destination, dgram.DestinationPort))
		if _, err := s.Table.Lookup(id); err == nil {
			reason = metrics.ReasonSocketBufferFull
		}
		s.metrics.DropFrame(reason)
		return
	}
	s.metrics.DatagramsDelivered.Inc()
}

// enqueueLink pushes item onto the link egress queue, dropping it and
// counting the drop if the queue is saturated.
func (s *Stack) enqueueLink(item linkEgressItem) {
	select {
	case s.linkEgress <- item:
	default:
		s.log.Warn("link egress queue full, dropping frame")
		s.metrics.DropFrame(metrics.ReasonOversizedPacket)
	}
}

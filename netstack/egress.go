package netstack

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vela-net/tapstack"
	"github.com/vela-net/tapstack/metrics"
)

// runIPEgress consumes the IP egress queue: it encodes each header/payload
// pair into a full IPv4 packet, recomputing the header checksum, then
// forwards the packet to the link egress queue addressed by the header's
// destination.
func (s *Stack) runIPEgress(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-s.ipEgress:
			s.encodeAndForward(item)
		}
	}
}

func (s *Stack) encodeAndForward(item ipEgressItem) {
	total := tapstack.SizeIPHeader + len(item.payload)
	if total > s.mtu {
		s.log.Warn("dropping oversized outbound packet",
			zap.Int("total_length", total), zap.Int("mtu", s.mtu))
		s.metrics.DropFrame(metrics.ReasonOversizedPacket)
		return
	}

	buf := make([]byte, total)
	item.header.Put(buf[:tapstack.SizeIPHeader])
	copy(buf[tapstack.SizeIPHeader:], item.payload)

	s.enqueueLink(linkEgressItem{
		kind:      linkKindIP,
		target:    item.header.Destination,
		etherType: tapstack.EtherTypeIPv4,
		payload:   buf,
	})
}

// runLinkEgress consumes the link egress queue: it resolves each packet's
// link-layer target via the ARP cache, prepends an Ethernet header, and
// writes the frame to the device — or, when the resolved hardware address
// is the stack's own, reinjects it directly into the ingress pipeline
// instead of writing it out, per spec.md §9's loopback requirement.
//
// An unresolved target causes an ARP request broadcast and a bounded,
// backed-off requeue of the packet; once MaxARPRetries is exhausted the
// packet is dropped.
func (s *Stack) runLinkEgress(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-s.linkEgress:
			if err := s.writeLink(ctx, item); err != nil {
				return err
			}
		}
	}
}

func (s *Stack) writeLink(ctx context.Context, item linkEgressItem) error {
	var targetHW tapstack.HwAddr
	if item.kind == linkKindARP {
		// The target is the requester that just sent us an ARP request;
		// handleARP inserted its mapping, so this lookup normally hits.
		// On a miss the reply is dropped, never retried.
		hw, ok := s.cache.Lookup(item.target)
		if !ok {
			s.metrics.DropFrame(metrics.ReasonARPRetryExhausted)
			return nil
		}
		targetHW = hw
	} else {
		hw, ok := s.cache.Lookup(item.target)
		if !ok {
			return s.retryUnresolved(ctx, item)
		}
		targetHW = hw
	}

	frame := make([]byte, tapstack.SizeEthernetHeader+len(item.payload))
	n := tapstack.EncodeEthernetFrame(frame, targetHW, s.localHW, item.etherType, item.payload)
	frame = frame[:n]

	if targetHW == s.localHW {
		decoded, err := tapstack.DecodeEthernetFrame(frame)
		if err != nil {
			s.metrics.DropFrame(metrics.ReasonMalformedFrame)
			return nil
		}
		s.dispatchFrame(decoded)
		return nil
	}

	if _, err := s.device.Write(frame); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

// retryUnresolved broadcasts an ARP request for item's target and requeues
// item with an incremented retry count, unless the retry budget is spent.
func (s *Stack) retryUnresolved(ctx context.Context, item linkEgressItem) error {
	if item.retries >= s.maxARPRetries {
		s.log.Debug("dropping packet: arp resolution exhausted",
			zap.String("target", item.target.String()))
		s.metrics.DropFrame(metrics.ReasonARPRetryExhausted)
		return nil
	}

	req := s.cache.BuildRequest(item.target)
	buf := make([]byte, tapstack.SizeARPv4Header)
	req.Put(buf)
	frame := make([]byte, tapstack.SizeEthernetHeader+len(buf))
	n := tapstack.EncodeEthernetFrame(frame, tapstack.Broadcast, s.localHW, tapstack.EtherTypeARP, buf)
	if _, err := s.device.Write(frame[:n]); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	s.metrics.ARPRequestsSent.Inc()

	backoff := s.arpBackoff
	for i := 0; i < item.retries; i++ {
		backoff *= 2
	}
	item.retries++

	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil
	}
	s.enqueueLink(item)
	return nil
}

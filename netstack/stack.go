// Package netstack wires tapstack's header codecs, arpcache's ARP table and
// udpsock's socket table into a running stack attached to a devio.Device:
// an ingress reader, an IP egress worker and a link egress worker connected
// by queues, supervised together so that a fatal device error brings the
// whole stack down cleanly.
package netstack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vela-net/tapstack"
	"github.com/vela-net/tapstack/arpcache"
	"github.com/vela-net/tapstack/devio"
	"github.com/vela-net/tapstack/metrics"
	"github.com/vela-net/tapstack/udpsock"
)

// ipEgressQueueDepth and linkEgressQueueDepth size the inter-worker queues.
// Neither spec.md nor the teacher bounds these explicitly; a generous
// buffer absorbs bursts without making a stuck consumer invisible.
const (
	ipEgressQueueDepth   = 1024
	linkEgressQueueDepth = 1024
)

// Config configures a Stack.
type Config struct {
	// Device is the already-provisioned TAP device to read from and
	// write to. Required.
	Device devio.Device

	// MTU bounds the size of frames read from and written to Device.
	MTU int

	// LocalHW is the hardware address the stack answers ARP and
	// Ethernet frames to.
	LocalHW tapstack.HwAddr

	// LocalAddr is the IPv4 address the stack answers ARP requests for,
	// sources ICMP echo replies from, and that outbound sockets bind under.
	LocalAddr tapstack.ProtocolAddr

	// MaxARPRetries bounds how many times an unresolved egress target
	// is requeued behind a broadcast ARP request before the packet in
	// flight is dropped. Zero means no retries at all.
	MaxARPRetries int

	// ARPRetryBackoff is the delay before the first ARP retry; each
	// subsequent retry for the same packet doubles it.
	ARPRetryBackoff time.Duration

	// ARPEntryTTL is how long a learned ARP mapping is trusted.
	ARPEntryTTL time.Duration

	// DefaultTTL is stamped into the ICMP echo replies the stack
	// originates. UDP datagrams sent through udpsock carry
	// tapstack.DefaultTTL regardless of this setting.
	DefaultTTL uint8

	// MaxSocketBufferDepth overrides the default per-socket receive
	// buffer depth. Zero means use udpsock's built-in default.
	MaxSocketBufferDepth int

	// Logger receives structured diagnostics. If nil, zap.NewNop() is
	// used.
	Logger *zap.Logger

	// Metrics receives counters for every drop-silently condition. If
	// nil, a private Collector is created, registered only on its own
	// fresh registry.
	Metrics *metrics.Collector
}

// Stack is a running user-space network stack attached to a single TAP
// device. The zero value is not usable; construct with New.
type Stack struct {
	device  devio.Device
	mtu     int
	localHW tapstack.HwAddr
	localIP tapstack.ProtocolAddr
	ttl     uint8

	cache *arpcache.Cache
	Table *udpsock.Table

	maxARPRetries int
	arpBackoff    time.Duration

	log     *zap.Logger
	metrics *metrics.Collector

	ipEgress   chan ipEgressItem
	linkEgress chan linkEgressItem

	group  *errgroup.Group
	cancel context.CancelFunc

	closeOnce sync.Once
}

// ipEgressItem is one entry of the IP egress queue: a fully addressed IPv4
// header template and the payload it carries. header.TotalLength must
// already reflect len(payload); the IP egress worker only recomputes the
// header checksum.
type ipEgressItem struct {
	header  tapstack.IPv4Header
	payload []byte
}

// linkKind distinguishes the two writable shapes the link egress worker
// accepts, per spec.md §9's redesign of the original's single "write raw
// bytes" handle into a closed two-case type.
type linkKind uint8

const (
	linkKindIP linkKind = iota
	linkKindARP
)

// linkEgressItem is one entry of the link egress queue.
type linkEgressItem struct {
	kind      linkKind
	target    tapstack.ProtocolAddr // resolved via the ARP cache for both kinds
	etherType tapstack.EtherType
	payload   []byte // IP packet bytes, or ARP packet bytes for linkKindARP
	retries   int
}

// New constructs a Stack from cfg. It performs no I/O; call Start to begin
// serving.
func New(cfg Config) *Stack {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mc := cfg.Metrics
	if mc == nil {
		mc = metrics.NewCollector(prometheus.NewRegistry())
	}

	cache := arpcache.New(cfg.LocalHW, cfg.LocalAddr)
	if cfg.ARPEntryTTL > 0 {
		cache.SetEntryTTL(cfg.ARPEntryTTL)
	}
	table := udpsock.NewTable()
	if cfg.MaxSocketBufferDepth > 0 {
		table.SetMaxBufferDepth(cfg.MaxSocketBufferDepth)
	}

	s := &Stack{
		device:        cfg.Device,
		mtu:           cfg.MTU,
		localHW:       cfg.LocalHW,
		localIP:       cfg.LocalAddr,
		ttl:           cfg.DefaultTTL,
		cache:         cache,
		Table:         table,
		maxARPRetries: cfg.MaxARPRetries,
		arpBackoff:    cfg.ARPRetryBackoff,
		log:           logger,
		metrics:       mc,
		ipEgress:      make(chan ipEgressItem, ipEgressQueueDepth),
		linkEgress:    make(chan linkEgressItem, linkEgressQueueDepth),
	}
	return s
}

// Bind registers a new UDP socket on this stack's socket table, wiring it
// to the stack's own egress path.
func (s *Stack) Bind(addr string) (*udpsock.Socket, error) {
	sock, err := s.Table.Bind(addr, s)
	if err != nil {
		return nil, err
	}
	s.metrics.SocketsBound.Inc()
	return sock, nil
}

// EnqueueIP implements udpsock.EgressWriter: it hands payload to the IP
// egress worker to be wrapped in header and forwarded on.
func (s *Stack) EnqueueIP(payload []byte, protocol uint8, header tapstack.IPv4Header) {
	select {
	case s.ipEgress <- ipEgressItem{header: header, payload: payload}:
	default:
		s.log.Warn("ip egress queue full, dropping datagram",
			zap.Uint8("protocol", protocol))
		s.metrics.DropFrame(metrics.ReasonOversizedPacket)
	}
}

// Start spawns the stack's three worker goroutines — ingress, IP egress,
// link egress — supervised by an errgroup.Group derived from ctx: a fatal
// error from any one of them cancels the others. Start returns
// immediately; call Wait to block until the stack stops.
func (s *Stack) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g, gCtx := errgroup.WithContext(ctx)
	s.group = g

	g.Go(func() error { return s.runIngress(gCtx) })
	g.Go(func() error { return s.runIPEgress(gCtx) })
	g.Go(func() error { return s.runLinkEgress(gCtx) })
}

// Wait blocks until every worker goroutine has returned and reports the
// first non-nil error, if any.
func (s *Stack) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Close cancels all workers, closes the underlying device (if it supports
// io.Closer) to unblock a pending Read, and waits for shutdown to
// complete.
func (s *Stack) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if closer, ok := s.device.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		done := make(chan struct{})
		go func() {
			err = s.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("close: %w", ctx.Err())
		}
	})
	return err
}

// Package metrics holds the Prometheus counters for every drop-silently
// condition named across spec.md: malformed frames, unsupported
// ether-types/protocols, checksum mismatches, full socket buffers, and
// exhausted ARP resolution retries. A stack that drops a packet always
// drops it loudly to these counters even when it stays quiet on the wire.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "tapstack"
	subsystem = "netstack"
)

// Label values for the reason a frame or packet was dropped.
const (
	ReasonMalformedFrame    = "malformed_frame"
	ReasonUnsupportedEther  = "unsupported_ethertype"
	ReasonUnsupportedProto  = "unsupported_protocol"
	ReasonChecksumMismatch  = "checksum_mismatch"
	ReasonSocketBufferFull  = "socket_buffer_full"
	ReasonNoMatchingSocket  = "no_matching_socket"
	ReasonARPRetryExhausted = "arp_retry_exhausted"
	ReasonOversizedPacket   = "oversized_packet"
	ReasonUntrustedARP      = "untrusted_arp_request"
)

// Collector holds every metric netstack emits.
type Collector struct {
	// FramesDropped counts ingress/egress drops, labeled by reason.
	FramesDropped *prometheus.CounterVec

	// ARPRequestsSent counts ARP requests the link egress worker had to
	// broadcast in order to resolve a target ProtocolAddr.
	ARPRequestsSent prometheus.Counter

	// ARPCacheSize is registered for the number of entries in the ARP
	// cache. netstack does not update it, so it stays at zero.
	ARPCacheSize prometheus.Gauge

	// SocketsBound reports the number of UDP sockets bound through
	// netstack.Stack.Bind.
	SocketsBound prometheus.Gauge

	// DatagramsDelivered counts payloads successfully handed to a bound
	// socket's receive buffer.
	DatagramsDelivered prometheus.Counter
}

// NewCollector builds a Collector and registers its metrics against reg. If
// reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_dropped_total",
			Help:      "Total frames or packets silently dropped, labeled by reason.",
		}, []string{"reason"}),

		ARPRequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "arp_requests_sent_total",
			Help:      "Total ARP request broadcasts sent to resolve an egress target.",
		}),

		ARPCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "arp_cache_entries",
			Help:      "Number of live entries in the ARP cache.",
		}),

		SocketsBound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "udp_sockets_bound",
			Help:      "Number of currently bound UDP sockets.",
		}),

		DatagramsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "udp_datagrams_delivered_total",
			Help:      "Total UDP datagrams delivered to a bound socket's receive buffer.",
		}),
	}

	reg.MustRegister(
		c.FramesDropped,
		c.ARPRequestsSent,
		c.ARPCacheSize,
		c.SocketsBound,
		c.DatagramsDelivered,
	)

	return c
}

// DropFrame increments the drop counter for reason.
func (c *Collector) DropFrame(reason string) {
	c.FramesDropped.WithLabelValues(reason).Inc()
}

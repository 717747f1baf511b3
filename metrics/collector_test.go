package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vela-net/tapstack/metrics"
)

func TestNewCollectorRegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.FramesDropped == nil {
		t.Error("FramesDropped is nil")
	}
	if c.ARPRequestsSent == nil {
		t.Error("ARPRequestsSent is nil")
	}
	if c.ARPCacheSize == nil {
		t.Error("ARPCacheSize is nil")
	}
	if c.SocketsBound == nil {
		t.Error("SocketsBound is nil")
	}
	if c.DatagramsDelivered == nil {
		t.Error("DatagramsDelivered is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}
}

func TestDropFrameIncrementsLabeledCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.DropFrame(metrics.ReasonChecksumMismatch)
	c.DropFrame(metrics.ReasonChecksumMismatch)
	c.DropFrame(metrics.ReasonMalformedFrame)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var got map[string]float64 = map[string]float64{}
	for _, fam := range families {
		if fam.GetName() != "tapstack_netstack_frames_dropped_total" {
			continue
		}
		for _, m := range fam.Metric {
			var reason string
			for _, l := range m.Label {
				if l.GetName() == "reason" {
					reason = l.GetValue()
				}
			}
			got[reason] = m.GetCounter().GetValue()
		}
	}

	if got[metrics.ReasonChecksumMismatch] != 2 {
		t.Fatalf("checksum_mismatch = %v, want 2", got[metrics.ReasonChecksumMismatch])
	}
	if got[metrics.ReasonMalformedFrame] != 1 {
		t.Fatalf("malformed_frame = %v, want 1", got[metrics.ReasonMalformedFrame])
	}
}

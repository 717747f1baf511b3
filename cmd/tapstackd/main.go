// Command tapstackd attaches a user-space network stack to a TAP device:
// ARP, IPv4, ICMP echo and a Berkeley-style UDP socket API, all driven by
// the netstack package. Provisioning the TAP device itself is the only
// piece of the original teacher's tap_test.go this command still performs
// directly via songgao/water.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/songgao/water"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vela-net/tapstack"
	"github.com/vela-net/tapstack/config"
	"github.com/vela-net/tapstack/devio"
	"github.com/vela-net/tapstack/metrics"
	"github.com/vela-net/tapstack/netstack"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tapstackd",
	Short: "Attach a user-space ARP/IPv4/ICMP/UDP stack to a TAP device",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tapstackd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	localAddr, err := parseIPv4(cfg.Network.LocalAddr)
	if err != nil {
		return fmt.Errorf("parse network.local_addr: %w", err)
	}
	localHW, err := tapstack.RandomHwAddr()
	if err != nil {
		return fmt.Errorf("generate hardware address: %w", err)
	}

	iface, err := water.New(water.Config{DeviceType: water.TAP})
	if err != nil {
		return fmt.Errorf("open tap device: %w", err)
	}
	dev := devio.NewWaterDevice(iface)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	stack := netstack.New(netstack.Config{
		Device:               dev,
		MTU:                  cfg.Device.MTU,
		LocalHW:              localHW,
		LocalAddr:            localAddr,
		MaxARPRetries:        cfg.ARP.MaxRetries,
		ARPRetryBackoff:      cfg.ARP.RetryBackoff,
		ARPEntryTTL:          cfg.ARP.EntryTTL,
		DefaultTTL:           cfg.Network.DefaultTTL,
		MaxSocketBufferDepth: cfg.Socket.MaxBufferDepth,
		Logger:               logger,
		Metrics:              collector,
	})

	logger.Info("tapstackd starting",
		zap.String("device", cfg.Device.Name),
		zap.String("local_addr", localAddr.String()),
		zap.String("local_hw", localHW.String()),
	)

	g, gCtx := errgroup.WithContext(ctx)
	stack.Start(gCtx)

	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: newMetricsMux(cfg.Metrics.Path, reg)}
	g.Go(func() error {
		logger.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		_ = metricsSrv.Close()
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return stack.Close(closeCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("tapstackd exited with error", zap.Error(err))
		return err
	}
	logger.Info("tapstackd stopped")
	return nil
}

func newMetricsMux(path string, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func parseIPv4(addr string) (tapstack.ProtocolAddr, error) {
	parsed, err := netip.ParseAddr(addr)
	if err != nil || !parsed.Is4() {
		return tapstack.ProtocolAddr{}, fmt.Errorf("%q is not an IPv4 address", addr)
	}
	return parsed.As4(), nil
}

const shutdownTimeout = 5 * time.Second

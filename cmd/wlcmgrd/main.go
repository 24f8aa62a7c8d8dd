package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gobus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"wlcmgr/internal/config"
	"wlcmgr/internal/dbus"
	"wlcmgr/internal/ipstack"
	"wlcmgr/internal/iwd"
	"wlcmgr/internal/logging"
	"wlcmgr/internal/logind"
	"wlcmgr/internal/metrics"
	"wlcmgr/internal/radio"
	"wlcmgr/internal/radio/sim"
	"wlcmgr/internal/state"
	"wlcmgr/internal/traffic"
	"wlcmgr/internal/wlcmgr"
)

var (
	configPath = flag.String("config", "/etc/wlcmgr/wlcmgr.yaml", "Path to the configuration file")
	busType    = flag.String("bus", "", "D-Bus bus type: session or system (overrides the config)")
	simulate   = flag.Bool("sim", false, "Use the simulated radio and IP stack")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

var log = logrus.WithField("module", "main")

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.WithError(err).Error("wlcmgrd failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	closer, err := logging.Setup(cfg.Logging, *debug)
	if err != nil {
		return err
	}
	defer closer.Close()

	log.WithField("config", *configPath).Info("wlcmgrd starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := wlcmgr.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	stateMgr := state.NewManager()
	collector, err := metrics.NewCollector(nil)
	if err != nil {
		return err
	}
	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics.Listen, collector)
	}

	var (
		r      radio.Radio
		ip     ipstack.Stack
		system *gobus.Conn
	)
	if *simulate {
		sr, err := simRadio(cfg.Simulation)
		if err != nil {
			return err
		}
		defer sr.Close()
		r = sr
		ip = ipstack.NewSim()
		log.Info("Using simulated radio")
	} else {
		if system, err = gobus.SystemBus(); err != nil {
			return fmt.Errorf("failed to connect to system bus: %w", err)
		}
		r = iwd.New(system, cfg.Roaming.RSSIThreshold)

		nl, err := ipstack.NewNetlink(ipstack.Options{DHCPTimeout: config.Ms(cfg.Timing.DHCPTimeoutMs)})
		if err != nil {
			return err
		}
		defer nl.Close()
		ip = nl

		watcher, err := ipstack.NewWatcher(stateMgr, cfg.Interfaces.Station, cfg.Interfaces.UAP)
		if err != nil {
			log.WithError(err).Warn("Netlink watcher failed")
		} else {
			go watcher.Run(ctx)
		}
	}

	mgr := wlcmgr.New(opts, r, ip, stateMgr, collector)

	var once sync.Once
	mgr.OnEvent(func(ev wlcmgr.Event) {
		if ev.Reason == wlcmgr.ReasonInitialized {
			once.Do(func() { loadNetworks(ctx, mgr, cfg.Networks) })
		}
	})

	bus := cfg.DBus.Bus
	if *busType != "" {
		bus = *busType
	}
	if bus != "none" {
		svc, err := dbus.NewService(bus, mgr, stateMgr)
		if err != nil {
			return fmt.Errorf("failed to start D-Bus service: %w", err)
		}
		defer svc.Close()
		log.WithField("bus", bus).Info("D-Bus service registered")
	}

	if system != nil {
		go func() {
			if err := logind.Run(ctx, system, mgr); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Warn("Sleep watcher stopped")
			}
		}()
	}

	go traffic.NewMonitor(stateMgr).Run(ctx)

	err = mgr.Run(ctx)
	log.Info("Shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loadNetworks adds the configured profiles once the radio is up
func loadNetworks(ctx context.Context, mgr *wlcmgr.Manager, networks []config.NetworkConfig) {
	for _, n := range networks {
		entry := log.WithField("network", n.Name)
		p, err := n.Profile()
		if err != nil {
			entry.WithError(err).Warn("Skipping network")
			continue
		}
		if err := mgr.AddNetwork(ctx, p); err != nil {
			entry.WithError(err).Warn("Failed to add network")
			continue
		}
		entry.Debug("Network added")
	}
}

// simRadio builds the simulated environment described in the config
func simRadio(cfg config.SimulationConfig) (*sim.Radio, error) {
	r := sim.New(cfg.Firmware)
	for _, b := range cfg.BSS {
		bssid, err := radio.ParseBSSID(b.BSSID)
		if err != nil {
			return nil, err
		}
		caps, err := radio.ParseSecurityCaps(b.Security)
		if err != nil {
			return nil, fmt.Errorf("simulated bss %s: %w", b.BSSID, err)
		}
		r.AddBSS(sim.BSS{
			ScanResult: radio.ScanResult{
				BSSID:    bssid,
				SSID:     b.SSID,
				Channel:  b.Channel,
				Security: caps,
				RSSI:     b.RSSI,
			},
			HideSSID:   b.Hidden,
			Passphrase: b.Passphrase,
		})
	}
	return r, nil
}

func serveMetrics(ctx context.Context, addr string, c *metrics.Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Warn("Metrics server stopped")
	}
}

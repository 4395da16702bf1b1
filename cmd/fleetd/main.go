// Command fleetd runs the Fleet Core daemon: registry, dispatcher,
// governance, crawl coordinator, oscillator bus, and the dashboard
// HTTP+WS surface, all driven from one process.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scbe/fleet/internal/config"
	"github.com/scbe/fleet/internal/crawl"
	"github.com/scbe/fleet/internal/events"
	"github.com/scbe/fleet/internal/governance"
	"github.com/scbe/fleet/internal/metrics"
	fleetnats "github.com/scbe/fleet/internal/nats"
	"github.com/scbe/fleet/internal/oscillator"
	"github.com/scbe/fleet/internal/registry"
	"github.com/scbe/fleet/internal/server"
	"github.com/scbe/fleet/internal/tasks"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "path to fleet.yaml (optional, defaults are used if absent)")
	addr := flag.String("addr", ":8080", "dashboard HTTP+WS listen address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	natsURL := flag.String("nats-url", "", "external NATS URL (if empty, an embedded server is started)")
	natsPort := flag.Int("nats-port", 4222, "listen port for the embedded NATS server")
	natsDataDir := flag.String("nats-data-dir", "data/nats", "JetStream storage directory for the embedded NATS server")
	disableNATS := flag.Bool("no-nats", false, "disable the NATS mirror entirely (dashboard-only mode)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("[FLEETD] failed to load config: %v", err)
		}
		cfg = loaded
	}

	bus := events.NewBus(nil)

	reg := registry.New(bus, nil)
	roundtable := governance.NewRoundtable(reg)
	dispatcher := tasks.NewDispatcher(reg, roundtable, bus)
	reg.SetDispatcher(dispatcher)

	frontier := crawl.NewFrontier(cfg.Crawl.DomainRateLimit.Milliseconds(), 5*time.Minute)
	coord := crawl.NewCoordinator(frontier, bus)

	oscCfg := oscillator.Config{
		CouplingRadius:      cfg.Oscillator.CouplingRadius,
		MinTrustForCoupling: cfg.Oscillator.MinTrustForCoupling,
		CouplingStrength:    cfg.Oscillator.CouplingStrength,
		MaxFrequency:        cfg.Oscillator.MaxFrequency,
	}
	osc := oscillator.NewBus(oscCfg)
	oscRunner := oscillator.NewRunner(osc, 0.05, 50*time.Millisecond, bus)

	var embeddedNATS *fleetnats.EmbeddedServer
	var natsClient *fleetnats.Client
	var natsMirror *events.NATSMirror
	if !*disableNATS {
		url := *natsURL
		if url == "" {
			srv, err := fleetnats.NewEmbeddedServer(fleetnats.EmbeddedServerConfig{
				Port:      *natsPort,
				JetStream: true,
				DataDir:   *natsDataDir,
			})
			if err != nil {
				log.Fatalf("[FLEETD] failed to create embedded NATS server: %v", err)
			}
			if err := srv.Start(); err != nil {
				log.Fatalf("[FLEETD] failed to start embedded NATS server: %v", err)
			}
			embeddedNATS = srv
			url = srv.URL()
		}

		client, err := fleetnats.NewClient(url)
		if err != nil {
			log.Fatalf("[FLEETD] failed to connect NATS client: %v", err)
		}
		natsClient = client

		streamMgr, err := fleetnats.NewStreamManager(client.RawConn())
		if err != nil {
			log.Fatalf("[FLEETD] failed to create JetStream stream manager: %v", err)
		}
		if err := streamMgr.SetupStreams(); err != nil {
			log.Fatalf("[FLEETD] failed to set up JetStream streams: %v", err)
		}

		natsMirror = events.NewNATSMirror(bus, client, "all", events.AllEventTypes())
		go natsMirror.Run()
		log.Printf("[FLEETD] NATS mirror bridging bus events onto %s", url)
	}

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	dash := server.New(reg, dispatcher, coord, osc)
	dash.SetRoundtable(roundtable)

	go oscRunner.Run()
	go dash.Run()
	go func() {
		log.Printf("[FLEETD] dashboard listening on %s", *addr)
		if err := http.ListenAndServe(*addr, dash.Router()); err != nil {
			log.Printf("[FLEETD] dashboard server exited: %v", err)
		}
	}()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		log.Printf("[FLEETD] metrics listening on %s", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.Printf("[FLEETD] metrics server exited: %v", err)
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			collector.Observe(metrics.Snapshot{
				QueueDepth:      dispatcher.QueueDepth(),
				TrustHistogram:  reg.TrustHistogram(),
				OrderParameter:  osc.ComputeSnapshot().OrderParameter,
				QuarantineCount: reg.QuarantineCount(),
			})
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("[FLEETD] shutting down")
	dash.Stop()
	oscRunner.Stop()
	if natsMirror != nil {
		natsMirror.Stop()
	}
	if natsClient != nil {
		natsClient.Close()
	}
	if embeddedNATS != nil {
		embeddedNATS.Shutdown()
	}
}

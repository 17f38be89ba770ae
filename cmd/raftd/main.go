// Command raftd runs one Raft participant: gRPC transport, durable bolt
// storage, a key-value state machine, and (optionally) a SWIM failure
// detector, all driven by a group.Group. It replaces the teacher's
// cmd/raft/single-server (this is the "start one process" binary) but
// folds in the config/flag shape of cmd/app/main.go (graceful signal
// handling, data-directory setup) rather than single-server's
// join-the-leader-over-gRPC dance, since membership changes here go
// through the AdminService (see cmd/raftctl) instead of a bespoke
// joinCluster helper.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"google.golang.org/grpc"

	"github.com/GavinJE/scylla/internal/detector/swim"
	"github.com/GavinJE/scylla/internal/metrics"
	"github.com/GavinJE/scylla/internal/raft"
	"github.com/GavinJE/scylla/internal/raft/group"
	"github.com/GavinJE/scylla/internal/statemachine/kvstore"
	"github.com/GavinJE/scylla/internal/storage/boltstore"
	"github.com/GavinJE/scylla/internal/transport/raftrpc"
)

func main() {
	id := flag.String("id", "", "this server's id (required)")
	listenAddr := flag.String("addr", "localhost:50051", "address this server's gRPC service listens on and advertises to peers")
	peersFlag := flag.String("peers", "", "comma-separated id=address pairs for the rest of the initial cluster, e.g. b=localhost:50052,c=localhost:50053")
	dataDir := flag.String("data", "./data", "directory for this server's bolt database")
	bootstrap := flag.Bool("bootstrap", false, "treat this as the first boot of a brand-new cluster (ignored if the data directory already holds a configuration)")
	swimEnabled := flag.Bool("swim", false, "enable the SWIM failure detector")
	swimBindAddr := flag.String("swim-addr", "localhost:7946", "UDP address for the SWIM failure detector")
	swimJoin := flag.String("swim-join", "", "comma-separated SWIM seed addresses to join")
	flag.Parse()

	if *id == "" {
		log.Fatal("-id is required")
	}

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}

	self := raft.ServerID(*id)
	peers := parsePeers(*peersFlag)

	store, err := boltstore.Open(fmt.Sprintf("%s/%s.bolt", *dataDir, *id))
	if err != nil {
		log.Fatalf("failed to open bolt store: %v", err)
	}
	defer store.Close()

	sm := kvstore.New(self)
	metricsCollector := metrics.NewMetrics()

	detector := buildFailureDetector(self, *listenAddr, peers, *swimEnabled, *swimBindAddr, *swimJoin)

	transport := raftrpc.NewTransport(self, append(peers, raft.ServerAddressRecord{ID: self, Address: raft.ServerAddress(*listenAddr)}), metricsCollector)
	defer transport.CloseAllClients()

	cfg := raft.DefaultConfig()
	col := group.Collaborators{
		RPC:             transport,
		Persistence:     store,
		FailureDetector: detector,
		StateMachine:    sm,
		Metrics:         metricsCollector,
	}

	g, err := group.Restore(self, cfg, col)
	if err != nil {
		log.Fatalf("failed to restore group: %v", err)
	}
	if *bootstrap && len(g.Configuration().Current) == 0 {
		initial := append([]raft.ServerAddressRecord{{ID: self, Address: raft.ServerAddress(*listenAddr)}}, peers...)
		g, err = group.New(self, cfg, raft.Configuration{Current: initial}, col)
		if err != nil {
			log.Fatalf("failed to bootstrap group: %v", err)
		}
		log.Printf("[raftd %s] bootstrapping new cluster with members %v", self, initial)
	}

	transport.BindGroup(g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)

	lis, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", *listenAddr, err)
	}

	srv := grpc.NewServer()
	transport.Serve(srv)
	raftrpc.RegisterAdminServiceServer(srv, raftrpc.NewGroupAdmin(g))

	go func() {
		log.Printf("[raftd %s] serving on %s", self, *listenAddr)
		if err := srv.Serve(lis); err != nil {
			log.Printf("[raftd %s] grpc server stopped: %v", self, err)
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-signalCtx.Done()

	log.Printf("[raftd %s] shutting down", self)
	srv.GracefulStop()
	g.Abort()
	report := metricsCollector.GetReport(len(g.Configuration().Current))
	report.PrintReport()
	if err := report.SaveJSON(fmt.Sprintf("%s/%s-metrics.json", *dataDir, *id)); err != nil {
		log.Printf("[raftd %s] failed saving metrics report: %v", self, err)
	}
	log.Printf("[raftd %s] stopped", self)
}

func parsePeers(flagVal string) []raft.ServerAddressRecord {
	if flagVal == "" {
		return nil
	}
	var peers []raft.ServerAddressRecord
	for _, pair := range strings.Split(flagVal, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			log.Fatalf("invalid -peers entry %q, expected id=address", pair)
		}
		peers = append(peers, raft.ServerAddressRecord{ID: raft.ServerID(parts[0]), Address: raft.ServerAddress(parts[1])})
	}
	return peers
}

// buildFailureDetector wires a swim.Detector (the failure_detector binding
// in SPEC_FULL.md's §4.3 collaborator table), or falls back to an
// always-alive detector when -swim is off (useful for local testing where
// standing up a UDP mesh per node is unnecessary ceremony).
func buildFailureDetector(self raft.ServerID, raftAddr string, peers []raft.ServerAddressRecord, enabled bool, swimAddr, joinSeeds string) raft.FailureDetector {
	if !enabled {
		return alwaysAliveDetector{}
	}
	cfg := swim.DefaultConfig()
	cfg.NodeID = self
	cfg.BindAddr = swimAddr
	cfg.AdvertiseAddr = swimAddr
	if joinSeeds != "" {
		cfg.JoinNodes = strings.Split(joinSeeds, ",")
	}
	s, err := swim.New(cfg)
	if err != nil {
		log.Fatalf("failed to construct SWIM detector: %v", err)
	}
	if err := s.Start(); err != nil {
		log.Fatalf("failed to start SWIM detector: %v", err)
	}
	return swim.NewDetector(s)
}

type alwaysAliveDetector struct{}

func (alwaysAliveDetector) IsAlive(raft.ServerID) bool { return true }

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Diffblue-benchmarks/hydra/pkg/api"
	"github.com/Diffblue-benchmarks/hydra/pkg/config"
	"github.com/Diffblue-benchmarks/hydra/pkg/network"
	"github.com/Diffblue-benchmarks/hydra/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: configs/hydra.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[Server] Load config: %v", err)
	}

	backing, err := openBacking(cfg)
	if err != nil {
		log.Fatalf("[Server] Open backing store: %v", err)
	}

	st, err := store.OpenBytes(backing, store.Options{
		MaxEntries:   cfg.Storage.MaxEntries,
		MinEntries:   cfg.Storage.MinEntries,
		CachePages:   cfg.Storage.CachePages,
		IORetries:    cfg.Storage.IORetries,
		RetryBackoff: time.Duration(cfg.Storage.RetryBackoffMs) * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("[Server] Open store: %v", err)
	}
	log.Printf("[Server] Store open (%s backend at %s, %d pages)",
		cfg.Storage.Backend, cfg.Storage.Path, st.PageCount())

	tcp := network.NewTCPServer(st)
	go func() {
		if err := tcp.Start(cfg.Server.TCPAddr); err != nil {
			log.Printf("[Server] TCP server stopped: %v", err)
		}
	}()

	httpSrv := api.NewServer(st)
	go httpSrv.Start(cfg.Server.Addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("[Server] Shutting down, flushing pages...")
	tcp.Stop()
	if err := st.Close(); err != nil {
		log.Fatalf("[Server] Close store: %v", err)
	}
	log.Println("[Server] Bye")
}

func openBacking(cfg *config.Config) (store.BackingStore, error) {
	if cfg.Storage.Backend == "sqlite" {
		if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
			return nil, err
		}
		return store.NewSQLiteStore(filepath.Join(cfg.Storage.Path, "hydra.db"))
	}
	return store.NewFileStore(cfg.Storage.Path)
}

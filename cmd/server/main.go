// Package main provides the entry point for the SatQuery server.
// The server answers Bitcoin questions by forwarding them to a hosted model
// API, optionally augmented with locally indexed reference material.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/satquery/satquery/internal/agent"
	"github.com/satquery/satquery/internal/api"
	"github.com/satquery/satquery/internal/buildinfo"
	"github.com/satquery/satquery/internal/config"
	"github.com/satquery/satquery/internal/kb"
	"github.com/satquery/satquery/internal/logging"
	"github.com/satquery/satquery/internal/misc"
	"github.com/satquery/satquery/internal/usage"
	"github.com/satquery/satquery/internal/util"
	"github.com/satquery/satquery/internal/watcher"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Println(buildinfo.Summary())

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// A missing .env file is not an error; environment keys may come from
	// the process environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debugf("skipping .env load: %v", err)
	}

	if created, errEnsure := misc.EnsureConfigFile("config.example.yaml", configPath); errEnsure != nil {
		log.Debugf("config bootstrap skipped: %v", errEnsure)
	} else if created {
		log.Infof("created %s from config.example.yaml", configPath)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	util.SetLogLevel(cfg)
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}

	upstream, err := agent.NewClient(cfg)
	if err != nil {
		log.Fatalf("failed to build upstream client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *kb.Store
	if cfg.Knowledge.Enabled {
		embedder, errEmbedder := kb.NewGenAIEmbedder(ctx, cfg.EmbeddingAPIKey(), cfg.Knowledge.EmbeddingModel)
		if errEmbedder != nil {
			log.Fatalf("failed to build embedding client: %v", errEmbedder)
		}
		dbPath, errResolve := util.ResolveDataPath(cfg.Knowledge.DBPath)
		if errResolve != nil {
			log.Fatalf("failed to resolve knowledge db path: %v", errResolve)
		}
		store, err = kb.NewStore(dbPath, embedder)
		if err != nil {
			log.Fatalf("failed to open knowledge base: %v", err)
		}
		defer func() {
			if errClose := store.Close(); errClose != nil {
				log.Errorf("failed to close knowledge base: %v", errClose)
			}
		}()
	}

	usageMgr := usage.NewManager()
	usageMgr.Start(ctx)
	defer usageMgr.Stop()

	stats := usage.NewMemoryStats()
	usageMgr.Register(stats)

	if dsn := strings.TrimSpace(os.Getenv("PGUSAGE_DSN")); dsn != "" {
		sink, errSink := usage.NewPostgresSink(ctx, dsn)
		if errSink != nil {
			log.Errorf("postgres usage sink disabled: %v", errSink)
		} else {
			usageMgr.Register(sink)
			defer func() {
				if errClose := sink.Close(); errClose != nil {
					log.Errorf("failed to close usage sink: %v", errClose)
				}
			}()
			log.Info("postgres usage sink enabled")
		}
	}

	server := api.NewServer(cfg, upstream, api.Options{
		Store:      store,
		UsageMgr:   usageMgr,
		UsageStats: stats,
	})

	configWatcher, err := watcher.NewWatcher(configPath, server.UpdateConfig)
	if err != nil {
		log.Fatalf("failed to create config watcher: %v", err)
	}
	configWatcher.SetConfig(cfg)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(server.Run)
	group.Go(func() error {
		if errStart := configWatcher.Start(groupCtx); errStart != nil {
			return errStart
		}
		<-groupCtx.Done()
		return configWatcher.Stop()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err = group.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("server exited with error: %v", err)
	}
	log.Info("server stopped")
}

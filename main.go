package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MTES-MCT/trackdechets-sub032/app"
	"github.com/MTES-MCT/trackdechets-sub032/config"
	"github.com/MTES-MCT/trackdechets-sub032/orchestrator"
	"github.com/MTES-MCT/trackdechets-sub032/repository"
	"github.com/MTES-MCT/trackdechets-sub032/server"
	"github.com/MTES-MCT/trackdechets-sub032/srvreg"
	cfg "github.com/cometbft/cometbft/config"
	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/viper"
)

var (
	configPath string
	httpPort   string
	dsn        string
	seed       bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to the service config file (toml or yaml)")
	flag.StringVar(&httpPort, "http-port", "", "HTTP web server port")
	flag.StringVar(&dsn, "dsn", "", "Postgres URL or sqlite file path")
	flag.BoolVar(&seed, "seed", false, "Seed the demo company registry")
}

// ledger is the running CometBFT node and its event store.
type ledger struct {
	node   *nm.Node
	app    *app.Application
	client *cmtrpc.Local
	db     *badger.DB
}

func (l *ledger) stop(logger cmtlog.Logger) {
	if err := l.node.Stop(); err != nil {
		logger.Error("Stopping CometBFT node", "err", err)
	}
	l.node.Wait()
	if err := l.db.Close(); err != nil {
		logger.Error("Closing ledger database", "err", err)
	}
}

func startLedger(conf config.LedgerConfig, logLevel string, logger cmtlog.Logger) (*ledger, error) {
	cmtConfig := cfg.DefaultConfig()
	cmtConfig.SetRoot(conf.CmtHome)
	viper.SetConfigFile(filepath.Join(conf.CmtHome, "config", "config.toml"))
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading CometBFT config: %w", err)
	}
	if err := viper.Unmarshal(cmtConfig); err != nil {
		return nil, fmt.Errorf("decoding CometBFT config: %w", err)
	}
	if err := cmtConfig.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid CometBFT configuration: %w", err)
	}

	db, err := badger.Open(badger.DefaultOptions(conf.BadgerDir))
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	ledgerApp := app.NewABCIApplication(db, &app.AppConfig{
		NodeID:    filepath.Base(conf.CmtHome), // Use directory name until the node starts
		LogAllTxs: logLevel == "debug",
	}, logger.With("module", "ledger"))

	// Private Validator
	pv := privval.LoadFilePV(
		cmtConfig.PrivValidatorKeyFile(),
		cmtConfig.PrivValidatorStateFile(),
	)

	// P2P network identity
	nodeKey, err := p2p.LoadNodeKey(cmtConfig.NodeKeyFile())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load node's key: %w", err)
	}

	nodeLogger, err := cmtflags.ParseLogLevel(cmtConfig.LogLevel, logger, cfg.DefaultLogLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to parse CometBFT log level: %w", err)
	}

	node, err := nm.NewNode(
		context.Background(),
		cmtConfig,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(ledgerApp),
		nm.DefaultGenesisDocProviderFunc(cmtConfig),
		cfg.DefaultDBProvider,
		nm.DefaultMetricsProvider(cmtConfig.Instrumentation),
		nodeLogger,
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating node: %w", err)
	}

	// Pass Node ID to app
	ledgerApp.SetNodeID(string(node.NodeInfo().ID()))

	if err := node.Start(); err != nil {
		db.Close()
		return nil, fmt.Errorf("starting node: %w", err)
	}

	return &ledger{node: node, app: ledgerApp, client: cmtrpc.New(node), db: db}, nil
}

// republishLoop retries events whose publication failed until ctx ends.
func republishLoop(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration, logger cmtlog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := orch.RepublishPending(ctx, 100)
			if err != nil {
				logger.Error("Republishing events", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("Republished events", "count", n)
			}
		}
	}
}

func main() {
	// Load Config
	flag.Parse()

	conf, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}
	if httpPort != "" {
		conf.HTTPPort = httpPort
	}
	if dsn != "" {
		conf.Database.DSN = dsn
	}
	if seed {
		conf.Database.Seed = true
	}

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err = cmtflags.ParseLogLevel(conf.LogLevel, logger, "info")
	if err != nil {
		log.Fatalf("failed to parse log level: %v", err)
	}

	// Connect DB
	repo := repository.NewRepository(logger.With("module", "repository"))
	if err := repo.ConnectDB(conf.Database.DSN, conf.Database.ConnAttempts); err != nil {
		log.Fatalf("Connecting database: %v", err)
	}
	defer repo.Close()
	if err := repo.Migrate(); err != nil {
		log.Fatalf("Migrating database: %v", err)
	}
	if conf.Database.Seed {
		if err := repo.Seed(repository.DemoCompanies); err != nil {
			log.Fatalf("Seeding database: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event publisher: CometBFT ledger when enabled, log only otherwise
	var publisher orchestrator.Publisher = app.NewLogPublisher(logger.With("module", "events"))
	var webserver *server.WebServer
	var l *ledger
	if conf.Ledger.Enabled {
		l, err = startLedger(conf.Ledger, conf.LogLevel, logger)
		if err != nil {
			log.Fatalf("Starting ledger: %v", err)
		}
		defer l.stop(logger)
		publisher = app.NewLedgerPublisher(l.client, l.app.NodeID, conf.Ledger.PublishTimeout, logger.With("module", "publisher"))
	}

	orch := orchestrator.New(repo, publisher, logger.With("module", "orchestrator"))

	// Initialize Service Registry
	serviceRegistry := srvreg.NewServiceRegistry(orch, logger.With("module", "srvreg"))
	serviceRegistry.RegisterDefaultServices()

	if l != nil {
		webserver = server.NewWebServer(conf.HTTPPort, logger, serviceRegistry, l.node, l.client)
		go republishLoop(ctx, orch, conf.Ledger.RepublishInterval, logger)
	} else {
		webserver = server.NewWebServer(conf.HTTPPort, logger, serviceRegistry, nil, nil)
	}

	if err := webserver.Start(); err != nil {
		log.Fatalf("Starting HTTP server: %v", err)
	}

	// Wait for interrupt signal to gracefully shut down the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	cancel()

	// Create deadline to wait for server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Shutdown the web server
	if err := webserver.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutting down HTTP web server", "err", err)
	}
	logger.Info("HTTP web server gracefully stopped")
}

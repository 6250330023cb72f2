package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"qawakun/config"
	"qawakun/conversation"
	"qawakun/crypto"
	"qawakun/feeds"
	"qawakun/gateway"
	"qawakun/gateway/auth"
	"qawakun/gateway/middleware"
	"qawakun/issuance"
	"qawakun/ledger"
	"qawakun/observability/logging"
	"qawakun/observability/otel"
	"qawakun/pinner"
	"qawakun/proposals"
	"qawakun/storage"
	"qawakun/store"
)

const shutdownTimeout = 10 * time.Second

const defaultPersona = "You are Qawakun, the keeper of a floating archipelago. " +
	"You speak warmly, remember the people you talk to, and guide them through " +
	"shaping the world, its characters and its laws."

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup(logging.Options{
		Service: "qawakund",
		Env:     cfg.Environment,
		Level:   logging.ParseLevel(cfg.LogLevel),
		File:    cfg.LogFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "qawakund",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Traces:      cfg.Telemetry.Traces,
			Metrics:     cfg.Telemetry.Metrics,
		})
		if err != nil {
			log.Fatalf("init telemetry: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("telemetry shutdown", "err", err)
			}
		}()
	}

	db, err := storage.NewLevelDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	st := store.New(db)
	defer st.Close()

	var signer *crypto.Signer
	if cfg.Mnemonic != "" {
		signer, err = crypto.NewSignerFromMnemonic(cfg.Mnemonic)
	} else {
		signer, err = crypto.NewSignerFromHex(cfg.PrivateKeyHex)
	}
	if err != nil {
		log.Fatalf("load operator key: %v", err)
	}
	envelope, err := crypto.NewEnvelope(signer)
	if err != nil {
		log.Fatalf("init envelope: %v", err)
	}

	backend, err := ledger.Dial(cfg.RPCURL)
	if err != nil {
		log.Fatalf("dial rpc: %v", err)
	}
	defer backend.Close()
	chain, err := ledger.NewClient(backend, signer, ledger.Config{
		ChainID:            cfg.ChainIDBig(),
		CredentialContract: common.HexToAddress(cfg.CredentialContract),
		GovernanceContract: common.HexToAddress(cfg.GovernanceContract),
	}, logger)
	if err != nil {
		log.Fatalf("init ledger client: %v", err)
	}
	if err := chain.CheckConfiguration(ctx); err != nil {
		log.Fatalf("ledger configuration: %v", err)
	}
	logger.Info("operator ready", "address", chain.OperatorAddress().Hex())

	pins := pinner.New(cfg.PinnerURL, cfg.PinnerGateway, cfg.PinnerJWT)

	persona := cfg.Persona
	if persona == "" {
		persona = defaultPersona
	}
	completer := conversation.NewHTTPCompleter(cfg.ModelURL, cfg.ModelKey, cfg.ModelName)
	engine := conversation.NewEngine(st, completer, persona, logger)

	var artwork []byte
	if cfg.ArtworkPath != "" {
		artwork, err = os.ReadFile(cfg.ArtworkPath)
		if err != nil {
			log.Fatalf("read artwork: %v", err)
		}
	}
	workflow := issuance.New(st, chain, pins, envelope, issuance.Config{
		SettleDelay: cfg.SettleDelay.Duration,
		Artwork:     artwork,
	}, logger)

	manager := proposals.NewManager(st, chain, workflow, logger)

	authSvc, err := auth.NewService(cfg.AuthSecret, "qawakun")
	if err != nil {
		log.Fatalf("init auth: %v", err)
	}

	server := gateway.NewServer(gateway.Config{
		AdminToken:  cfg.AdminToken,
		AppUser:     cfg.AppUser,
		AppPassword: cfg.AppPassword,
		RateLimits: map[string]middleware.RateLimit{
			"login":      {RequestsPerMinute: 10, Burst: 5},
			"chat":       {RequestsPerMinute: 30, Burst: 10},
			"claim":      {RequestsPerMinute: 5, Burst: 2},
			"vote":       {RequestsPerMinute: 10, Burst: 3},
			"proposals":  {RequestsPerMinute: 30, Burst: 10},
			"governance": {RequestsPerMinute: 30, Burst: 10},
			"content":    {RequestsPerMinute: 60, Burst: 20},
		},
		LogRequests: true,
	}, authSvc, engine, workflow, manager, st, logger)

	var sources []feeds.Source
	if cfg.FarcasterEnabled() {
		sources = append(sources, feeds.NewFarcasterSource(
			cfg.Farcaster.APIURL, cfg.Farcaster.APIKey, cfg.Farcaster.SignerUUID, cfg.Farcaster.FID,
		))
	}
	if cfg.TwitterEnabled() {
		sources = append(sources, feeds.NewTwitterSource(
			cfg.Twitter.APIURL, cfg.Twitter.Bearer, cfg.Twitter.UserID,
		))
	}
	if len(sources) > 0 {
		monitor := feeds.NewMonitor(sources, st, engine, feeds.Config{
			Interval: cfg.FeedInterval.Duration,
		}, logger)
		go func() {
			if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("feed monitor stopped", "err", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server.Handler(),
	}

	go func() {
		logger.Info("listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

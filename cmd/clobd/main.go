package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vaultbook/vaultbook/params"
	"github.com/vaultbook/vaultbook/pkg/api"
	"github.com/vaultbook/vaultbook/pkg/core/ledger"
	"github.com/vaultbook/vaultbook/pkg/crypto"
	"github.com/vaultbook/vaultbook/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	engine, err := ledger.NewEngine(ledger.Options{
		DBPath: cfg.Storage.DBPath,
		Logger: sugar,
	})
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}
	defer engine.Close()

	// Devnet convenience: with AUTHORITY_KEY set, log the authority address
	// so the operator can point markets at it.
	if cfg.Node.AuthorityKeyHex != "" {
		signer, err := crypto.FromPrivateKeyHex(cfg.Node.AuthorityKeyHex)
		if err != nil {
			sugar.Fatalw("authority_key_invalid", "err", err)
		}
		sugar.Infow("authority_configured", "address", signer.Address().Hex())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewServer(engine, sugar, cfg.API.AllowedOrigins)
	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started", "db_path", cfg.Storage.DBPath, "api_addr", cfg.API.Addr)

	<-ctx.Done()
	sugar.Info("shutting down")
}

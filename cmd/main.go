package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/blackholelabs/lpstrategy/configs"
	"github.com/blackholelabs/lpstrategy/internal/eventbus"
	"github.com/blackholelabs/lpstrategy/internal/pnltracker"
	"github.com/blackholelabs/lpstrategy/internal/presenter"
	"github.com/blackholelabs/lpstrategy/internal/scheduler"
	"github.com/blackholelabs/lpstrategy/internal/store"
	"github.com/blackholelabs/lpstrategy/pkg/contractclient"
	"github.com/blackholelabs/lpstrategy/pkg/txlistener"
	"github.com/blackholelabs/lpstrategy/pkg/walletcrypto"
)

func main() {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, reading configuration from the environment")
	}

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("fatal startup error")
	}
}

func run(log zerolog.Logger) error {
	encryptedPK := os.Getenv("ENC_PK")
	if encryptedPK == "" {
		return fmt.Errorf("ENC_PK not set")
	}
	keyHex := os.Getenv("KEY")
	if keyHex == "" {
		return fmt.Errorf("KEY not set")
	}
	key, err := walletcrypto.Hex2Bytes(keyHex)
	if err != nil {
		return err
	}
	pk, err := walletcrypto.LoadPrivateKey(key, encryptedPK)
	if err != nil {
		return fmt.Errorf("decrypting signer key: %w", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yml"
	}
	conf, err := configs.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eth, err := ethclient.DialContext(ctx, conf.RPC)
	if err != nil {
		return fmt.Errorf("dialing RPC %s: %w", conf.RPC, err)
	}

	signer, err := contractclient.NewSigner(ctx, eth, pk)
	if err != nil {
		return fmt.Errorf("building signer: %w", err)
	}
	log.Info().Str("address", signer.Address().Hex()).Msg("signer ready")

	waiter := txlistener.NewTxListener(eth,
		txlistener.WithPollInterval(3*time.Second),
		txlistener.WithTimeout(5*time.Minute),
	)

	newDeps, err := conf.NewInstanceFactory(ctx, eth, signer, waiter, log)
	if err != nil {
		return fmt.Errorf("building instance factory: %w", err)
	}

	gas, err := conf.NewGasOracle(ctx, log)
	if err != nil {
		return fmt.Errorf("building gas oracle: %w", err)
	}

	st, err := store.New(conf.StoreDir)
	if err != nil {
		return fmt.Errorf("opening instance store: %w", err)
	}

	var txLog *store.TxLog
	if conf.MySQLDSN != "" {
		txLog, err = store.NewTxLog(conf.MySQLDSN)
		if err != nil {
			return fmt.Errorf("opening tx log: %w", err)
		}
	}

	bus := eventbus.New(256, log)
	pnl := pnltracker.New(bus)

	sched := scheduler.New(scheduler.Dependencies{
		Store:          st,
		TxLog:          txLog,
		Bus:            bus,
		PnL:            pnl,
		Gas:            gas,
		Recognized:     conf.ToRecognizedQuoteTokens(),
		NewDeps:        newDeps,
		RecoveryBudget: conf.Recovery.Budget,
		StopGrace:      time.Duration(conf.Recovery.StopGraceSec) * time.Second,
		Log:            log,
	})

	if err := sched.RecoverAll(ctx); err != nil {
		log.Error().Err(err).Msg("recovering persisted instances")
	}

	srv := presenter.New(presenter.Config{
		Log:       log,
		Scheduler: sched,
		PnL:       pnl,
		Port:      conf.ServerPort,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/tranvictor/walletsync"
	redisstore "github.com/tranvictor/walletsync/persistence/redis"
	"github.com/tranvictor/walletsync/wallet/rpcwallet"
)

const envFile = ".env"

var (
	walletURLFlag = &cli.StringFlag{
		Name:    "wallet-url",
		Usage:   "JSON-RPC endpoint of the wallet",
		Value:   "http://127.0.0.1:1248",
		EnvVars: []string{"WALLETSYNC_WALLET_URL"},
	}
	redisURLFlag = &cli.StringFlag{
		Name:    "redis-url",
		Usage:   "Redis holding the shared session record",
		Value:   "redis://127.0.0.1:6379/0",
		EnvVars: []string{"WALLETSYNC_REDIS_URL"},
	}
	keyPrefixFlag = &cli.StringFlag{
		Name:    "key-prefix",
		Usage:   "Redis key prefix; processes sharing it share a session",
		EnvVars: []string{"WALLETSYNC_KEY_PREFIX"},
	}
	sessionKeyFlag = &cli.StringFlag{
		Name:    "session-key",
		Usage:   "storage key of the session record",
		Value:   walletsync.DefaultSessionKey,
		EnvVars: []string{"WALLETSYNC_SESSION_KEY"},
	}
	sessionDurationFlag = &cli.DurationFlag{
		Name:    "session-duration",
		Usage:   "validity window of new sessions",
		Value:   walletsync.DefaultSessionDuration,
		EnvVars: []string{"WALLETSYNC_SESSION_DURATION"},
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "walletsync",
		Usage: "Inspect and drive wallet network environments and shared sessions",
		Before: func(cCtx *cli.Context) error {
			return loadEnvFile()
		},
		Commands: []*cli.Command{
			environmentsCommand,
			detectCommand,
			switchCommand,
			sessionCommand,
			runCommand,
		},
		UseShortOptionHandling: true,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadEnvFile loads .env from the working directory when there is one.
func loadEnvFile() error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

func newRedisStorage(cCtx *cli.Context) (*redisstore.Storage, func(), error) {
	opts, err := redis.ParseURL(cCtx.String(redisURLFlag.Name))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(cCtx.Context).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("couldn't reach redis: %w", err)
	}

	var storeOpts []redisstore.StorageOption
	if prefix := cCtx.String(keyPrefixFlag.Name); prefix != "" {
		storeOpts = append(storeOpts, redisstore.WithKeyPrefix(prefix))
	}
	return redisstore.NewStorage(client, storeOpts...), func() { _ = client.Close() }, nil
}

func dialWallet(cCtx *cli.Context) (*rpcwallet.Wallet, error) {
	return rpcwallet.Dial(cCtx.Context, cCtx.String(walletURLFlag.Name))
}

// newClient wires a walletsync.Client from flags. The returned func releases
// everything it opened.
func newClient(cCtx *cli.Context) (*walletsync.Client, func(), error) {
	wallet, err := dialWallet(cCtx)
	if err != nil {
		return nil, nil, err
	}
	storage, closeStorage, err := newRedisStorage(cCtx)
	if err != nil {
		wallet.Close()
		return nil, nil, err
	}

	client, err := walletsync.NewClient(wallet, storage,
		walletsync.WithSessionKey(cCtx.String(sessionKeyFlag.Name)),
		walletsync.WithSessionDuration(cCtx.Duration(sessionDurationFlag.Name)),
		walletsync.WithNotifier(walletsync.NotifierFunc(printNotification)),
	)
	if err != nil {
		closeStorage()
		wallet.Close()
		return nil, nil, err
	}

	return client, func() {
		client.Close()
		closeStorage()
		wallet.Close()
	}, nil
}

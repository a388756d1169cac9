// Command permctl drives the permission protocol client from the shell with
// a private-key wallet.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/ahwlsqja/permission-client/internal/config"
	"github.com/ahwlsqja/permission-client/pkg/chain"
	"github.com/ahwlsqja/permission-client/pkg/datafile"
	"github.com/ahwlsqja/permission-client/pkg/nonce"
	"github.com/ahwlsqja/permission-client/pkg/permissions"
	pkgredis "github.com/ahwlsqja/permission-client/pkg/redis"
	"github.com/ahwlsqja/permission-client/pkg/relayer"
	"github.com/ahwlsqja/permission-client/pkg/storage"
	"github.com/ahwlsqja/permission-client/pkg/wallet"
)

const usage = `usage: permctl <command> [flags]

commands:
  grant             grant a grantee access to files
  revoke            revoke a permission
  trust             trust a server
  untrust           untrust a server
  register-grantee  register a grantee public key
  permissions       list the account's permissions
  servers           list the account's trusted servers
  upload            upload a data file, optionally encrypted
  decrypt           download and decrypt a data file
  pubkey            print the account's encryption public key
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "permctl: %v\n", err)
		os.Exit(1)
	}
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError{"missing command"}
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return usageError{"unknown command " + args[0]}
	}

	logger, err := initLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := newEnv(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer env.close()

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return cmd(ctx, env, fs, args[1:], out)
}

func initLogger() (*zap.Logger, error) {
	if os.Getenv("ENVIRONMENT") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// env holds the wired protocol stack for one invocation.
type env struct {
	cfg      *config.Config
	client   *permissions.Client
	datafile *datafile.Service
	logger   *zap.Logger
	closers  []func()
}

func newEnv(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*env, error) {
	if cfg.Client.PrivateKey == "" {
		return nil, errors.New("PRIVATE_KEY is required")
	}

	e := &env{cfg: cfg, logger: logger}

	// 1. Chain
	rpc, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Chain.RPCURL, err)
	}
	e.closers = append(e.closers, rpc.Close)

	contracts := chain.DefaultRegistry()
	if cfg.Chain.ContractsFile != "" {
		contracts, err = chain.LoadRegistry(cfg.Chain.ContractsFile)
		if err != nil {
			e.close()
			return nil, err
		}
	}

	// 2. Wallet
	w, err := wallet.NewKeyWalletFromHex(cfg.Client.PrivateKey, rpc, cfg.Chain.ChainIDBig(), logger)
	if err != nil {
		e.close()
		return nil, err
	}

	// 3. Storage
	httpClient := &http.Client{Timeout: cfg.Client.HTTPTimeout}
	fetcher := storage.NewCachingFetcher(storage.NewHTTPFetcher(httpClient, logger), cfg.Client.FetchCacheSize, logger)

	var grantStorage storage.Storage
	if cfg.Client.GrantServerURL != "" {
		grantStorage = storage.NewHTTPStorage(cfg.Client.GrantServerURL, httpClient, logger)
	}

	// 4. Relayer and nonce guard
	var rel relayer.Relayer
	if cfg.Client.RelayerURL != "" {
		rel = relayer.NewHTTPClient(cfg.Client.RelayerURL, httpClient, logger)
	}

	var guard nonce.Store
	if cfg.Client.NonceGuard {
		rdb := pkgredis.New(pkgredis.Config{
			Host:        cfg.Redis.Host,
			Port:        cfg.Redis.Port,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		e.closers = append(e.closers, func() { _ = rdb.Close() })
		if err := pkgredis.Ping(ctx, rdb); err != nil {
			e.close()
			return nil, err
		}
		guard = nonce.NewRedisStore(rdb, logger)
	}

	e.client, err = permissions.New(permissions.Config{
		Wallet:       w,
		Chain:        rpc,
		ChainID:      cfg.Chain.ChainIDBig(),
		Relayer:      rel,
		Contracts:    contracts,
		GrantStorage: grantStorage,
		Fetcher:      fetcher,
		NonceGuard:   guard,
		Logger:       logger,
	})
	if err != nil {
		e.close()
		return nil, err
	}

	e.datafile = datafile.NewService(datafile.Config{
		Wallet:  w,
		Storage: grantStorage,
		Fetcher: fetcher,
		Logger:  logger,
	})
	return e, nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

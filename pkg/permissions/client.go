// Package permissions is the protocol client: it resolves nonces, composes
// and signs typed messages, and submits grants, revocations and server
// trust changes through a relayer or directly from the wallet.
package permissions

import (
	"math/big"

	"go.uber.org/zap"

	"github.com/ahwlsqja/permission-client/pkg/chain"
	perrors "github.com/ahwlsqja/permission-client/pkg/errors"
	"github.com/ahwlsqja/permission-client/pkg/grantfile"
	"github.com/ahwlsqja/permission-client/pkg/nonce"
	"github.com/ahwlsqja/permission-client/pkg/relayer"
	"github.com/ahwlsqja/permission-client/pkg/storage"
	"github.com/ahwlsqja/permission-client/pkg/wallet"
)

// Config is the complete set of capabilities a Client uses. It is copied at
// construction; later changes to the caller's value have no effect.
type Config struct {
	// Wallet signs messages and, without a relayer, sends transactions
	Wallet wallet.Wallet
	// Chain serves nonce reads, queries and receipts
	Chain wallet.ChainReader
	// ChainID is the active chain
	ChainID *big.Int

	// Relayer, when set, submits every signed operation
	Relayer relayer.Relayer

	// Contracts resolves protocol contract addresses; nil uses the defaults
	Contracts *chain.Registry

	// GrantStoreFunc or GrantStorage store new grant files. A grant must
	// otherwise carry an explicit GrantURL.
	GrantStoreFunc storage.StoreFunc
	GrantStorage   storage.Storage

	// Fetcher reads existing grant files for queries and grant dedup
	Fetcher storage.Fetcher

	// NonceGuard, when set, keeps this process from signing two messages
	// with the same nonce concurrently
	NonceGuard nonce.Store

	Logger *zap.Logger
}

// Client submits protocol operations for the wallet's active account.
//
// A Client holds no mutable state and may be shared. It does not serialize
// calls: two concurrent operations for the same account can read the same
// nonce, and the registry accepts only the first. Callers that need strict
// ordering must run one operation per account at a time, or configure a
// NonceGuard to have the second call fail fast with a nonce error. Stale
// nonces are never retried.
type Client struct {
	wallet     wallet.Wallet
	chain      wallet.ChainReader
	chainID    *big.Int
	relayer    relayer.Relayer
	contracts  *chain.Registry
	grants     *grantfile.Manager
	fetcher    storage.Fetcher
	nonceGuard nonce.Store
	resolver   *Resolver
	logger     *zap.Logger
}

// New validates cfg and creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.Wallet == nil {
		return nil, perrors.InvalidConfiguration("a wallet is required")
	}
	if cfg.Chain == nil {
		return nil, perrors.InvalidConfiguration("a chain reader is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, perrors.InvalidConfiguration("a positive chain id is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	contracts := cfg.Contracts
	if contracts == nil {
		contracts = chain.DefaultRegistry()
	}
	chainID := new(big.Int).Set(cfg.ChainID)

	return &Client{
		wallet:     cfg.Wallet,
		chain:      cfg.Chain,
		chainID:    chainID,
		relayer:    cfg.Relayer,
		contracts:  contracts,
		fetcher:    cfg.Fetcher,
		nonceGuard: cfg.NonceGuard,
		grants: grantfile.NewManager(grantfile.ManagerConfig{
			StoreFunc: cfg.GrantStoreFunc,
			Storage:   cfg.GrantStorage,
			Logger:    logger,
		}),
		resolver: NewResolver(cfg.Wallet, cfg.Chain, contracts, chainID, logger),
		logger:   logger,
	}, nil
}

// ChainID returns a copy of the active chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Resolver exposes address and nonce resolution.
func (c *Client) Resolver() *Resolver {
	return c.resolver
}

// UsesRelayer reports whether signed operations go through a relayer.
func (c *Client) UsesRelayer() bool {
	return c.relayer != nil
}

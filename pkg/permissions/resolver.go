package permissions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ahwlsqja/permission-client/pkg/chain"
	perrors "github.com/ahwlsqja/permission-client/pkg/errors"
	"github.com/ahwlsqja/permission-client/pkg/wallet"
)

// Resolver reads the active account and its signing nonces. Nothing is
// cached: every signing flow reads the nonce right before composing.
type Resolver struct {
	wallet    wallet.Wallet
	caller    wallet.Caller
	contracts *chain.Registry
	chainID   *big.Int
	logger    *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(w wallet.Wallet, caller wallet.Caller, contracts *chain.Registry, chainID *big.Int, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		wallet:    w,
		caller:    caller,
		contracts: contracts,
		chainID:   chainID,
		logger:    logger,
	}
}

// ResolveUserAddress returns the wallet's first account.
func (r *Resolver) ResolveUserAddress(ctx context.Context) (common.Address, error) {
	addrs, err := r.wallet.Addresses(ctx)
	if err != nil {
		return common.Address{}, perrors.Nonce("failed to read wallet address", err)
	}
	if len(addrs) == 0 {
		return common.Address{}, perrors.Nonce("no wallet address available", wallet.ErrNoAccounts)
	}
	return addrs[0], nil
}

// ResolveNonce reads the signing nonce of user from the registry
// (DataPermissions).
func (r *Resolver) ResolveNonce(ctx context.Context, user common.Address) (*big.Int, error) {
	return r.ResolveContractNonce(ctx, chain.DataPermissions, user)
}

// ResolveContractNonce reads userNonce(user) from the named protocol
// contract. Each verifying contract keeps its own counter.
func (r *Resolver) ResolveContractNonce(ctx context.Context, contract string, user common.Address) (*big.Int, error) {
	addr, err := r.contracts.Address(r.chainID, contract)
	if err != nil {
		return nil, perrors.Nonce("unknown nonce contract", err)
	}
	contractABI, err := chain.ABI(contract)
	if err != nil {
		return nil, perrors.Nonce("unknown nonce contract", err)
	}

	values, err := callView(ctx, r.caller, addr, contractABI, chain.FnUserNonce, user)
	if err != nil {
		r.logger.Error("failed to read nonce",
			zap.String("user", user.Hex()),
			zap.String("contract", contract),
			zap.Error(err),
		)
		return nil, perrors.Nonce("failed to read user nonce", err)
	}

	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, perrors.Nonce("unexpected nonce type", fmt.Errorf("got %T", values[0]))
	}
	r.logger.Debug("nonce resolved",
		zap.String("user", user.Hex()),
		zap.String("contract", contract),
		zap.Stringer("nonce", n),
	)
	return n, nil
}

// callView packs and executes a read-only call and unpacks its outputs.
func callView(ctx context.Context, caller wallet.Caller, to common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return values, nil
}

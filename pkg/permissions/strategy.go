package permissions

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ahwlsqja/permission-client/pkg/chain"
	"github.com/ahwlsqja/permission-client/pkg/eip712"
	perrors "github.com/ahwlsqja/permission-client/pkg/errors"
	"github.com/ahwlsqja/permission-client/pkg/nonce"
	"github.com/ahwlsqja/permission-client/pkg/relayer"
	"github.com/ahwlsqja/permission-client/pkg/wallet"
)

const msgInvalidRelayerResponse = "invalid response from relayer"

// TransactionHandle identifies a submitted operation.
type TransactionHandle struct {
	Hash       common.Hash    `json:"hash"`
	Operation  string         `json:"operation"`
	Contract   string         `json:"contract"`
	From       common.Address `json:"from"`
	Nonce      *big.Int       `json:"nonce,omitempty"`
	ViaRelayer bool           `json:"viaRelayer"`
}

// signedOperation describes one signed protocol operation. M is the typed
// message body; it is also the first argument of the on-chain function.
type signedOperation[M any] struct {
	name       string
	contract   string
	domainName string
	relayerOp  relayer.Operation
	function   string
	message    func(nonce *big.Int) M
	compose    func(eip712.Domain, M) (*eip712.TypedMessage, error)
}

// submitSigned runs a signed operation end to end: resolve the account and
// nonce, compose and sign the typed message, then hand it to the relayer
// when one is configured or send it from the wallet otherwise. The path is
// chosen once and never retried on the other.
func submitSigned[M any](ctx context.Context, c *Client, user common.Address, op signedOperation[M], opts *wallet.TransactionOptions) (handle *TransactionHandle, err error) {
	contractAddr, err := c.contractAddress(op.contract)
	if err != nil {
		return nil, err
	}

	// 1. Fresh nonce for this message
	n, err := c.resolver.ResolveContractNonce(ctx, op.contract, user)
	if err != nil {
		return nil, err
	}

	// 2. Optional local reservation
	if c.nonceGuard != nil {
		key := nonce.Key{ChainID: c.chainID, Contract: contractAddr, User: user, Nonce: n}
		if err := c.nonceGuard.Reserve(ctx, key); err != nil {
			return nil, perrors.Nonce("nonce is already in use", err)
		}
		defer func() { c.settleNonce(ctx, key, err) }()
	}

	// 3. Compose and sign
	msg := op.message(n)
	td, err := op.compose(eip712.Domain{
		Name:              op.domainName,
		ChainID:           c.chainID,
		VerifyingContract: contractAddr,
	}, msg)
	if err != nil {
		return nil, perrors.Normalize(err, perrors.KindInvalidConfiguration, "failed to compose typed message")
	}
	sig, err := c.sign(ctx, td)
	if err != nil {
		return nil, err
	}
	formatted, err := eip712.FormatForContract(sig)
	if err != nil {
		return nil, perrors.Signature("failed to format signature", err)
	}

	handle = &TransactionHandle{
		Operation:  op.name,
		Contract:   op.contract,
		From:       user,
		Nonce:      n,
		ViaRelayer: c.relayer != nil,
	}

	// 4. Submit
	if c.relayer != nil {
		handle.Hash, err = c.submitViaRelayer(ctx, op.relayerOp, td, formatted, user)
	} else {
		handle.Hash, err = c.sendTransaction(ctx, contractAddr, op.contract, op.function, []any{msg, formatted}, opts)
	}
	if err != nil {
		c.logger.Error("operation failed",
			zap.String("operation", op.name),
			zap.String("user", user.Hex()),
			zap.Bool("via_relayer", handle.ViaRelayer),
			zap.Error(err),
		)
		return nil, err
	}

	c.logger.Info("operation submitted",
		zap.String("operation", op.name),
		zap.String("user", user.Hex()),
		zap.String("tx_hash", handle.Hash.Hex()),
		zap.Bool("via_relayer", handle.ViaRelayer),
	)
	return handle, nil
}

// submitUnsigned sends a call that authorizes by msg.sender. It always goes
// through the wallet, since relayers only accept signed messages.
func (c *Client) submitUnsigned(ctx context.Context, name, contract, function string, args []any, opts *wallet.TransactionOptions) (*TransactionHandle, error) {
	user, err := c.resolver.ResolveUserAddress(ctx)
	if err != nil {
		return nil, err
	}
	contractAddr, err := c.contractAddress(contract)
	if err != nil {
		return nil, err
	}

	hash, err := c.sendTransaction(ctx, contractAddr, contract, function, args, opts)
	if err != nil {
		return nil, err
	}

	c.logger.Info("operation submitted",
		zap.String("operation", name),
		zap.String("user", user.Hex()),
		zap.String("tx_hash", hash.Hex()),
	)
	return &TransactionHandle{Hash: hash, Operation: name, Contract: contract, From: user}, nil
}

// sign asks the wallet for a typed-data signature. Declined prompts become
// user rejections, anything else a signature error.
func (c *Client) sign(ctx context.Context, td *eip712.TypedMessage) ([]byte, error) {
	sig, err := c.wallet.SignTypedData(ctx, td)
	if err != nil {
		return nil, perrors.FromSigning(err, "failed to sign typed data")
	}
	if len(sig) != eip712.SignatureLength {
		return nil, perrors.Signature("wallet returned a malformed signature", eip712.ErrInvalidSignatureLen)
	}
	return sig, nil
}

// submitViaRelayer sends a signed request and validates the reply. Values
// panicked by a caller-supplied relayer are recovered into relayer errors.
func (c *Client) submitViaRelayer(ctx context.Context, op relayer.Operation, td *eip712.TypedMessage, sig []byte, user common.Address) (hash common.Hash, err error) {
	defer func() {
		if r := recover(); r != nil {
			cause := perrors.FromRecovered(r)
			hash, err = common.Hash{}, perrors.Relayer(cause.Error(), cause)
		}
	}()

	resp, err := c.relayer.Submit(ctx, relayer.NewSignedRequest(op, td, sig, user))
	if err != nil {
		if _, ok := perrors.As(err); ok {
			return common.Hash{}, err
		}
		if errors.Is(err, relayer.ErrTransport) {
			return common.Hash{}, perrors.Network("failed to reach relayer", err)
		}
		if errors.Is(err, relayer.ErrInvalidResponse) {
			return common.Hash{}, perrors.Relayer(msgInvalidRelayerResponse, err)
		}
		return common.Hash{}, perrors.Relayer(err.Error(), err)
	}
	if resp == nil {
		return common.Hash{}, perrors.Relayer(msgInvalidRelayerResponse, nil)
	}

	switch resp.Type {
	case relayer.TypeError:
		message := resp.Error
		if message == "" {
			message = "relayer reported an error"
		}
		return common.Hash{}, perrors.Relayer(message, nil)
	case relayer.TypeSigned:
		if resp.Hash == (common.Hash{}) {
			return common.Hash{}, perrors.Relayer(msgInvalidRelayerResponse, nil).
				WithDetails(map[string]any{"reason": "missing transaction hash"})
		}
		return resp.Hash, nil
	default:
		return common.Hash{}, perrors.Relayer(msgInvalidRelayerResponse, nil).
			WithDetails(map[string]any{"type": resp.Type})
	}
}

// sendTransaction submits a call from the wallet with the caller's gas
// overrides.
func (c *Client) sendTransaction(ctx context.Context, to common.Address, contract, function string, args []any, opts *wallet.TransactionOptions) (common.Hash, error) {
	contractABI, err := chain.ABI(contract)
	if err != nil {
		return common.Hash{}, perrors.InvalidConfiguration(err.Error())
	}

	call := wallet.ContractCall{
		To:           to,
		ABI:          contractABI,
		FunctionName: function,
		Args:         args,
	}
	opts.Apply(&call)

	hash, err := c.wallet.SendTransaction(ctx, call)
	if err != nil {
		return common.Hash{}, perrors.Normalize(err, perrors.KindBlockchain, "failed to send transaction")
	}
	return hash, nil
}

// settleNonce finalizes a guard reservation: used on success, released on
// failure. Guard errors are logged; the registry stays authoritative.
func (c *Client) settleNonce(ctx context.Context, key nonce.Key, opErr error) {
	var err error
	if opErr == nil {
		err = c.nonceGuard.MarkUsed(ctx, key)
	} else {
		err = c.nonceGuard.Release(ctx, key)
	}
	if err != nil {
		c.logger.Warn("failed to settle nonce reservation",
			zap.String("user", key.User.Hex()),
			zap.Stringer("nonce", key.Nonce),
			zap.Error(err),
		)
	}
}

func (c *Client) contractAddress(contract string) (common.Address, error) {
	addr, err := c.contracts.Address(c.chainID, contract)
	if err != nil {
		return common.Address{}, perrors.InvalidConfiguration(err.Error()).WithError(err)
	}
	return addr, nil
}

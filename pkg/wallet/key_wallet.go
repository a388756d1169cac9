package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/ahwlsqja/permission-client/pkg/eip712"
)

// Backend is the RPC surface KeyWallet needs to build and send
// transactions. *ethclient.Client satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeyWallet is a Wallet backed by a single secp256k1 private key.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	backend Backend
	chainID *big.Int
	logger  *zap.Logger
}

// Compile-time interface compliance check
var _ Wallet = (*KeyWallet)(nil)

// NewKeyWallet creates a wallet for key on chainID. backend may be nil for a
// signing-only wallet.
func NewKeyWallet(key *ecdsa.PrivateKey, backend Backend, chainID *big.Int, logger *zap.Logger) *KeyWallet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		backend: backend,
		chainID: new(big.Int).Set(chainID),
		logger:  logger,
	}
}

// NewKeyWalletFromHex parses a hex private key, with or without 0x prefix.
func NewKeyWalletFromHex(hexKey string, backend Backend, chainID *big.Int, logger *zap.Logger) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeyWallet(key, backend, chainID, logger), nil
}

// Address returns the wallet account.
func (w *KeyWallet) Address() common.Address {
	return w.address
}

// Addresses returns the single wallet account.
func (w *KeyWallet) Addresses(ctx context.Context) ([]common.Address, error) {
	return []common.Address{w.address}, nil
}

// SignMessage signs the EIP-191 text hash of message. The recovery byte is
// 27 or 28, as personal_sign returns it.
func (w *KeyWallet) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignTypedData signs the EIP-712 digest of td. The recovery byte is left
// as 0 or 1.
func (w *KeyWallet) SignTypedData(ctx context.Context, td *eip712.TypedMessage) ([]byte, error) {
	digest, err := eip712.Digest(td)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %w", err)
	}

	w.logger.Debug("typed data signed",
		zap.String("address", w.address.Hex()),
		zap.String("primary_type", td.PrimaryType),
	)
	return sig, nil
}

// SendTransaction builds, signs and broadcasts call. Missing nonce, gas and
// fee values are fetched from the backend.
func (w *KeyWallet) SendTransaction(ctx context.Context, call ContractCall) (common.Hash, error) {
	if w.backend == nil {
		return common.Hash{}, fmt.Errorf("wallet has no chain backend")
	}

	// 1. Encode calldata
	data, err := call.Data()
	if err != nil {
		return common.Hash{}, err
	}

	// 2. Resolve account nonce
	var nonce uint64
	if call.Nonce != nil {
		nonce = *call.Nonce
	} else {
		nonce, err = w.backend.PendingNonceAt(ctx, w.address)
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to get account nonce: %w", err)
		}
	}

	// 3. Resolve gas limit
	var gas uint64
	if call.Gas != nil {
		gas = *call.Gas
	} else {
		gas, err = w.backend.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &call.To, Data: data})
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	// 4. Build the transaction for the fee model
	txData, err := w.buildTx(ctx, call, nonce, gas, data)
	if err != nil {
		return common.Hash{}, err
	}

	// 5. Sign and broadcast
	signedTx, err := types.SignNewTx(w.key, types.LatestSignerForChainID(w.chainID), txData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signedTx); err != nil {
		w.logger.Error("failed to send transaction",
			zap.String("address", w.address.Hex()),
			zap.String("function", call.FunctionName),
			zap.Error(err),
		)
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	w.logger.Info("transaction sent",
		zap.String("address", w.address.Hex()),
		zap.String("function", call.FunctionName),
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.Uint64("nonce", nonce),
	)
	return signedTx.Hash(), nil
}

func (w *KeyWallet) buildTx(ctx context.Context, call ContractCall, nonce, gas uint64, data []byte) (types.TxData, error) {
	to := call.To

	switch fee := call.Fee.(type) {
	case LegacyFee:
		gasPrice := fee.GasPrice
		if gasPrice == nil {
			var err error
			if gasPrice, err = w.backend.SuggestGasPrice(ctx); err != nil {
				return nil, fmt.Errorf("failed to suggest gas price: %w", err)
			}
		}
		return &types.LegacyTx{Nonce: nonce, To: &to, Gas: gas, GasPrice: gasPrice, Data: data}, nil

	case DynamicFee:
		return w.dynamicTx(ctx, fee, nonce, gas, to, data)

	default:
		head, err := w.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest header: %w", err)
		}
		if head.BaseFee == nil {
			gasPrice, err := w.backend.SuggestGasPrice(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to suggest gas price: %w", err)
			}
			return &types.LegacyTx{Nonce: nonce, To: &to, Gas: gas, GasPrice: gasPrice, Data: data}, nil
		}
		return w.dynamicTx(ctx, DynamicFee{}, nonce, gas, to, data)
	}
}

func (w *KeyWallet) dynamicTx(ctx context.Context, fee DynamicFee, nonce, gas uint64, to common.Address, data []byte) (types.TxData, error) {
	tip := fee.MaxPriorityFeePerGas
	if tip == nil {
		var err error
		if tip, err = w.backend.SuggestGasTipCap(ctx); err != nil {
			return nil, fmt.Errorf("failed to suggest tip cap: %w", err)
		}
	}

	feeCap := fee.MaxFeePerGas
	if feeCap == nil {
		head, err := w.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest header: %w", err)
		}
		if head.BaseFee == nil {
			return nil, ErrMissingFeeData
		}
		// 2x base fee leaves headroom for several full blocks
		feeCap = new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	return &types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	}, nil
}

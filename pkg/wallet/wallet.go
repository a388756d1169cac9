// Package wallet describes the signing and transaction capability the
// protocol client depends on, and provides a private-key implementation.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ahwlsqja/permission-client/pkg/eip712"
)

// Error definitions
var (
	ErrNoAccounts     = errors.New("wallet exposes no accounts")
	ErrMissingABI     = errors.New("contract call has no ABI")
	ErrMissingFeeData = errors.New("chain returned no fee data")
)

// Wallet is the capability to sign on behalf of a user and to send
// transactions from the user's account.
type Wallet interface {
	// Addresses returns the authorized accounts, active account first
	Addresses(ctx context.Context) ([]common.Address, error)

	// SignMessage produces a personal_sign style signature over message
	SignMessage(ctx context.Context, message []byte) ([]byte, error)

	// SignTypedData produces a 65-byte signature over the EIP-712 digest of td
	SignTypedData(ctx context.Context, td *eip712.TypedMessage) ([]byte, error)

	// SendTransaction submits call and returns the transaction hash
	SendTransaction(ctx context.Context, call ContractCall) (common.Hash, error)
}

// Caller performs read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainReader is the read side of an RPC client: contract calls and
// receipts. *ethclient.Client satisfies it.
type ChainReader interface {
	Caller
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ContractCall is a state-changing call against a protocol contract.
// Unset Fee, Gas and Nonce are chosen by the wallet.
type ContractCall struct {
	To           common.Address
	ABI          abi.ABI
	FunctionName string
	Args         []any
	Fee          FeeModel
	Gas          *uint64
	Nonce        *uint64
}

// Data ABI-encodes the call.
func (c ContractCall) Data() ([]byte, error) {
	if len(c.ABI.Methods) == 0 {
		return nil, ErrMissingABI
	}
	data, err := c.ABI.Pack(c.FunctionName, c.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", c.FunctionName, err)
	}
	return data, nil
}

// GasFields reports the gas-related overrides present on the call. Absent
// overrides have no key at all.
func (c ContractCall) GasFields() map[string]any {
	fields := make(map[string]any)
	switch fee := c.Fee.(type) {
	case LegacyFee:
		if fee.GasPrice != nil {
			fields[FieldGasPrice] = fee.GasPrice
		}
	case DynamicFee:
		if fee.MaxFeePerGas != nil {
			fields[FieldMaxFeePerGas] = fee.MaxFeePerGas
		}
		if fee.MaxPriorityFeePerGas != nil {
			fields[FieldMaxPriorityFeePerGas] = fee.MaxPriorityFeePerGas
		}
	}
	if c.Gas != nil {
		fields[FieldGas] = *c.Gas
	}
	if c.Nonce != nil {
		fields[FieldNonce] = *c.Nonce
	}
	return fields
}

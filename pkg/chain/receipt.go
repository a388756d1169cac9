package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const (
	// DefaultReceiptTimeout bounds WaitForReceipt when no timeout is given
	DefaultReceiptTimeout = 2 * time.Minute

	receiptInitialInterval = 500 * time.Millisecond
	receiptMaxInterval     = 5 * time.Second
)

// Error definitions
var (
	ErrReceiptTimeout    = errors.New("timed out waiting for transaction receipt")
	ErrTransactionFailed = errors.New("transaction reverted")
)

// ReceiptReader is the subset of an RPC client needed to observe mined
// transactions. *ethclient.Client satisfies it.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Event is a decoded protocol event.
type Event struct {
	Name   string         `json:"name"`
	Fields map[string]any `json:"fields"`
}

// Result is the protocol view of a mined transaction. Identifiers are nil
// when the receipt carries no matching event.
type Result struct {
	Hash         common.Hash     `json:"hash"`
	BlockNumber  uint64          `json:"blockNumber"`
	GasUsed      uint64          `json:"gasUsed"`
	Status       uint64          `json:"status"`
	PermissionID *big.Int        `json:"permissionId,omitempty"`
	GranteeID    *big.Int        `json:"granteeId,omitempty"`
	ServerID     *common.Address `json:"serverId,omitempty"`
	Events       []Event         `json:"events,omitempty"`
}

// HasEvent reports whether an event with the given name was decoded.
func (r *Result) HasEvent(name string) bool {
	for _, ev := range r.Events {
		if ev.Name == name {
			return true
		}
	}
	return false
}

// WaitForReceipt polls reader with exponential backoff until hash is mined
// or timeout elapses.
func WaitForReceipt(ctx context.Context, reader ReceiptReader, hash common.Hash, timeout time.Duration, logger *zap.Logger) (*types.Receipt, error) {
	if timeout <= 0 {
		timeout = DefaultReceiptTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = receiptInitialInterval
	b.MaxInterval = receiptMaxInterval
	b.MaxElapsedTime = 0

	var receipt *types.Receipt
	err := backoff.Retry(func() error {
		r, err := reader.TransactionReceipt(waitCtx, hash)
		if err == nil {
			receipt = r
			return nil
		}
		if errors.Is(err, ethereum.NotFound) {
			logger.Debug("receipt not yet available", zap.String("tx_hash", hash.Hex()))
			return err
		}
		if waitCtx.Err() != nil {
			return backoff.Permanent(waitCtx.Err())
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, waitCtx))

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("receipt wait cancelled: %w", ctx.Err())
		}
		// The backoff gives up once the next interval would cross the
		// deadline, so a trailing NotFound is a timeout as well.
		if errors.Is(err, ethereum.NotFound) || waitCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
		}
		return nil, fmt.Errorf("failed to fetch receipt: %w", err)
	}
	return receipt, nil
}

// Extract decodes the protocol events in receipt using contractABI. Logs
// that do not belong to contractABI are ignored. A reverted receipt yields
// ErrTransactionFailed together with the metadata-only result.
func Extract(receipt *types.Receipt, contractABI abi.ABI, logger *zap.Logger) (*Result, error) {
	result := &Result{
		Hash:    receipt.TxHash,
		GasUsed: receipt.GasUsed,
		Status:  receipt.Status,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return result, ErrTransactionFailed
	}

	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 {
			continue
		}
		ev, err := contractABI.EventByID(lg.Topics[0])
		if err != nil {
			continue
		}
		fields, err := decodeEvent(ev, lg)
		if err != nil {
			logger.Warn("failed to decode event",
				zap.String("event", ev.Name),
				zap.String("tx_hash", receipt.TxHash.Hex()),
				zap.Error(err),
			)
			continue
		}
		result.Events = append(result.Events, Event{Name: ev.Name, Fields: fields})
		applyIdentifiers(result, ev.Name, fields)
	}

	if len(result.Events) == 0 {
		logger.Info("no protocol events in receipt",
			zap.String("tx_hash", receipt.TxHash.Hex()),
			zap.Uint64("block", result.BlockNumber),
		)
	}
	return result, nil
}

func decodeEvent(ev *abi.Event, lg *types.Log) (map[string]any, error) {
	fields := make(map[string]any)

	if len(ev.Inputs.NonIndexed()) > 0 {
		if err := ev.Inputs.UnpackIntoMap(fields, lg.Data); err != nil {
			return nil, fmt.Errorf("unpack data: %w", err)
		}
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	return fields, nil
}

func applyIdentifiers(result *Result, event string, fields map[string]any) {
	switch event {
	case EventPermissionAdded, EventPermissionRevoked:
		if id, ok := fields["permissionId"].(*big.Int); ok {
			result.PermissionID = id
		}
	case EventGranteeRegistered:
		if id, ok := fields["granteeId"].(*big.Int); ok {
			result.GranteeID = id
		}
	case EventServerTrusted, EventServerUntrusted:
		if id, ok := fields["serverId"].(common.Address); ok {
			result.ServerID = &id
		}
	}
}

package permissions

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ahwlsqja/permission-client/pkg/chain"
	perrors "github.com/ahwlsqja/permission-client/pkg/errors"
)

// WaitOptions tune WaitForResult. Timeout bounds only the receipt wait;
// zero uses chain.DefaultReceiptTimeout.
type WaitOptions struct {
	Timeout time.Duration
}

// WaitForResult waits for handle's transaction to be mined and decodes the
// protocol events it emitted.
func (c *Client) WaitForResult(ctx context.Context, handle *TransactionHandle, opts WaitOptions) (*chain.Result, error) {
	if handle == nil {
		return nil, perrors.InvalidConfiguration("transaction handle is required")
	}
	contractABI, err := chain.ABI(handle.Contract)
	if err != nil {
		return nil, perrors.InvalidConfiguration(err.Error())
	}

	receipt, err := chain.WaitForReceipt(ctx, c.chain, handle.Hash, opts.Timeout, c.logger)
	if err != nil {
		return nil, perrors.Blockchain("failed to get transaction receipt", err)
	}

	result, err := chain.Extract(receipt, contractABI, c.logger)
	if err != nil {
		if errors.Is(err, chain.ErrTransactionFailed) {
			return result, perrors.Blockchain("transaction reverted", err).
				WithDetails(map[string]any{"hash": handle.Hash.Hex()})
		}
		return nil, perrors.Blockchain("failed to decode transaction receipt", err)
	}

	c.logger.Info("transaction confirmed",
		zap.String("operation", handle.Operation),
		zap.String("tx_hash", handle.Hash.Hex()),
		zap.Uint64("block", result.BlockNumber),
	)
	return result, nil
}

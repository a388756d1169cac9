// Package nonce guards protocol signing nonces against local reuse. The
// registry stays authoritative; a Store only keeps one process (or a fleet
// sharing Redis) from signing two messages with the same nonce at once.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultTTL is how long a reservation or used marker is kept
	DefaultTTL = 5 * time.Minute
)

// Key identifies a signing nonce by chain, issuing contract, user and value.
// Deployments reuse contract addresses across chains, so the chain id is
// part of the identity.
type Key struct {
	ChainID  *big.Int
	Contract common.Address
	User     common.Address
	Nonce    *big.Int
}

// String renders the key as chain:contract:user:nonce in lower case.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s",
		decimalOrZero(k.ChainID),
		strings.ToLower(k.Contract.Hex()),
		strings.ToLower(k.User.Hex()),
		decimalOrZero(k.Nonce),
	)
}

func decimalOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Store defines the interface for nonce storage
// Implementations can use Redis, in-memory, or other backends
type Store interface {
	// Reserve attempts to reserve a nonce before signing
	// Returns ErrNonceAlreadyUsed if nonce is already used or reserved
	Reserve(ctx context.Context, key Key) error

	// MarkUsed marks a reserved nonce as used (after successful submission)
	MarkUsed(ctx context.Context, key Key) error

	// Release releases a reserved nonce (on submission failure, allows retry)
	Release(ctx context.Context, key Key) error
}

// ErrNonceAlreadyUsed is returned when a nonce is already used or reserved
var ErrNonceAlreadyUsed = errors.New("nonce already used or reserved")

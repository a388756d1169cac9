// Package relayer defines the envelope exchanged with a gas-paying relayer
// and the clients that deliver it.
package relayer

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ahwlsqja/permission-client/pkg/eip712"
)

// Envelope types
const (
	TypeSigned = "signed"
	TypeDirect = "direct"
	TypeError  = "error"
)

// Operation tags understood by relayers
type Operation string

const (
	OpPermissionGrant  Operation = "submitPermissionGrant"
	OpPermissionRevoke Operation = "submitPermissionRevoke"
	OpTrustServer      Operation = "submitTrustServer"
	OpUntrustServer    Operation = "submitUntrustServer"
	OpRegisterGrantee  Operation = "submitRegisterGrantee"
)

// Error definitions
var (
	// ErrTransport marks failures to reach the relayer at all, as opposed to
	// a relayer that answered with an error.
	ErrTransport = errors.New("relayer transport failure")
	// ErrInvalidResponse marks a relayer that answered with a body that is
	// not a response envelope.
	ErrInvalidResponse = errors.New("invalid relayer response")
)

// Request asks the relayer to submit a signed typed message.
type Request struct {
	Type                string               `json:"type"`
	Operation           Operation            `json:"operation"`
	TypedData           *eip712.TypedMessage `json:"typedData"`
	Signature           hexutil.Bytes        `json:"signature"`
	ExpectedUserAddress common.Address       `json:"expectedUserAddress"`
}

// NewSignedRequest builds a request of type "signed".
func NewSignedRequest(op Operation, td *eip712.TypedMessage, sig []byte, user common.Address) Request {
	return Request{
		Type:                TypeSigned,
		Operation:           op,
		TypedData:           td,
		Signature:           sig,
		ExpectedUserAddress: user,
	}
}

// Response is the relayer's answer: {type:"signed", hash} on success or
// {type:"error", error} on failure.
type Response struct {
	Type  string      `json:"type"`
	Hash  common.Hash `json:"hash"`
	Error string      `json:"error,omitempty"`
}

// Relayer submits signed requests on behalf of users.
type Relayer interface {
	Submit(ctx context.Context, req Request) (*Response, error)
}

// Func adapts a plain function to the Relayer interface.
type Func func(ctx context.Context, req Request) (*Response, error)

// Submit calls f.
func (f Func) Submit(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

package eip712

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// DomainVersion is the fixed version of every protocol domain
	DomainVersion = "1"

	// SignatureLength is the byte length of an r||s||v signature
	SignatureLength = 65
)

// Domain names, one per verifying contract
const (
	DataPermissionsDomain         = "DataPermissions"
	DataPortabilityServersDomain  = "DataPortabilityServers"
	DataPortabilityGranteesDomain = "DataPortabilityGrantees"
)

// Primary types
const (
	PrimaryTypePermission       = "Permission"
	PrimaryTypeRevokePermission = "RevokePermission"
	PrimaryTypeTrustServer      = "TrustServer"
	PrimaryTypeUntrustServer    = "UntrustServer"
	PrimaryTypeRegisterGrantee  = "RegisterGrantee"
)

// TypedMessage is a complete EIP-712 envelope: domain, types, primaryType and
// message. It marshals to the JSON shape wallets and relayers expect.
type TypedMessage = apitypes.TypedData

// Domain binds a typed message to a chain and a verifying contract.
type Domain struct {
	Name              string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// PermissionMessage is the signed body of a grant.
// Field tags follow the on-chain struct so the value can be passed as a
// contract argument unchanged.
type PermissionMessage struct {
	Nonce   *big.Int   `abi:"nonce" json:"nonce"`
	Grant   string     `abi:"grant" json:"grant"`
	FileIDs []*big.Int `abi:"fileIds" json:"fileIds"`
}

// RevokePermissionMessage is the signed body of a revoke.
type RevokePermissionMessage struct {
	Nonce        *big.Int `abi:"nonce" json:"nonce"`
	PermissionID *big.Int `abi:"permissionId" json:"permissionId"`
}

// TrustServerMessage is the signed body of a trust-server request.
type TrustServerMessage struct {
	Nonce     *big.Int       `abi:"nonce" json:"nonce"`
	ServerID  common.Address `abi:"serverId" json:"serverId"`
	ServerURL string         `abi:"serverUrl" json:"serverUrl"`
}

// UntrustServerMessage is the signed body of an untrust-server request.
type UntrustServerMessage struct {
	Nonce    *big.Int       `abi:"nonce" json:"nonce"`
	ServerID common.Address `abi:"serverId" json:"serverId"`
}

// RegisterGranteeMessage is the signed body of a grantee registration.
type RegisterGranteeMessage struct {
	Nonce          *big.Int       `abi:"nonce" json:"nonce"`
	Owner          common.Address `abi:"owner" json:"owner"`
	GranteeAddress common.Address `abi:"granteeAddress" json:"granteeAddress"`
	PublicKey      string         `abi:"publicKey" json:"publicKey"`
}

// Error definitions
var (
	ErrInvalidSignatureLen = errors.New("signature must be 65 bytes")
	ErrMissingNonce        = errors.New("typed message nonce is required")
	ErrMissingChainID      = errors.New("domain chain id is required")
	ErrMissingContract     = errors.New("domain verifying contract is required")
	ErrMissingName         = errors.New("domain name is required")
)

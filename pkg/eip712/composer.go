package eip712

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var messageTypes = map[string][]apitypes.Type{
	PrimaryTypePermission: {
		{Name: "nonce", Type: "uint256"},
		{Name: "grant", Type: "string"},
		{Name: "fileIds", Type: "uint256[]"},
	},
	PrimaryTypeRevokePermission: {
		{Name: "nonce", Type: "uint256"},
		{Name: "permissionId", Type: "uint256"},
	},
	PrimaryTypeTrustServer: {
		{Name: "nonce", Type: "uint256"},
		{Name: "serverId", Type: "address"},
		{Name: "serverUrl", Type: "string"},
	},
	PrimaryTypeUntrustServer: {
		{Name: "nonce", Type: "uint256"},
		{Name: "serverId", Type: "address"},
	},
	PrimaryTypeRegisterGrantee: {
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
		{Name: "granteeAddress", Type: "address"},
		{Name: "publicKey", Type: "string"},
	},
}

// ComposeGrant builds the Permission typed message. File ids are embedded in
// caller order so the signature covers exactly the files being granted.
func ComposeGrant(domain Domain, msg PermissionMessage) (*TypedMessage, error) {
	if msg.Nonce == nil {
		return nil, ErrMissingNonce
	}
	fileIDs := make([]interface{}, 0, len(msg.FileIDs))
	for _, id := range msg.FileIDs {
		fileIDs = append(fileIDs, decimal(id))
	}
	return compose(domain, PrimaryTypePermission, apitypes.TypedDataMessage{
		"nonce":   decimal(msg.Nonce),
		"grant":   msg.Grant,
		"fileIds": fileIDs,
	})
}

// ComposeRevoke builds the RevokePermission typed message.
func ComposeRevoke(domain Domain, msg RevokePermissionMessage) (*TypedMessage, error) {
	if msg.Nonce == nil {
		return nil, ErrMissingNonce
	}
	return compose(domain, PrimaryTypeRevokePermission, apitypes.TypedDataMessage{
		"nonce":        decimal(msg.Nonce),
		"permissionId": decimal(msg.PermissionID),
	})
}

// ComposeTrustServer builds the TrustServer typed message.
func ComposeTrustServer(domain Domain, msg TrustServerMessage) (*TypedMessage, error) {
	if msg.Nonce == nil {
		return nil, ErrMissingNonce
	}
	return compose(domain, PrimaryTypeTrustServer, apitypes.TypedDataMessage{
		"nonce":     decimal(msg.Nonce),
		"serverId":  msg.ServerID.Hex(),
		"serverUrl": msg.ServerURL,
	})
}

// ComposeUntrustServer builds the UntrustServer typed message.
func ComposeUntrustServer(domain Domain, msg UntrustServerMessage) (*TypedMessage, error) {
	if msg.Nonce == nil {
		return nil, ErrMissingNonce
	}
	return compose(domain, PrimaryTypeUntrustServer, apitypes.TypedDataMessage{
		"nonce":    decimal(msg.Nonce),
		"serverId": msg.ServerID.Hex(),
	})
}

// ComposeRegisterGrantee builds the RegisterGrantee typed message.
func ComposeRegisterGrantee(domain Domain, msg RegisterGranteeMessage) (*TypedMessage, error) {
	if msg.Nonce == nil {
		return nil, ErrMissingNonce
	}
	return compose(domain, PrimaryTypeRegisterGrantee, apitypes.TypedDataMessage{
		"nonce":          decimal(msg.Nonce),
		"owner":          msg.Owner.Hex(),
		"granteeAddress": msg.GranteeAddress.Hex(),
		"publicKey":      msg.PublicKey,
	})
}

func compose(domain Domain, primaryType string, message apitypes.TypedDataMessage) (*TypedMessage, error) {
	if domain.ChainID == nil || domain.ChainID.Sign() <= 0 {
		return nil, ErrMissingChainID
	}
	if domain.VerifyingContract == (common.Address{}) {
		return nil, ErrMissingContract
	}
	if domain.Name == "" {
		return nil, ErrMissingName
	}

	return &TypedMessage{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primaryType:    messageTypes[primaryType],
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(domain.ChainID)),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: message,
	}, nil
}

// decimal renders a uint256 as a decimal string. Strings survive JSON
// transport to relayers without precision loss and hash identically.
func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

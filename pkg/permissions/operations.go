package permissions

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ahwlsqja/permission-client/pkg/chain"
	"github.com/ahwlsqja/permission-client/pkg/eip712"
	perrors "github.com/ahwlsqja/permission-client/pkg/errors"
	"github.com/ahwlsqja/permission-client/pkg/grantfile"
	"github.com/ahwlsqja/permission-client/pkg/relayer"
	"github.com/ahwlsqja/permission-client/pkg/wallet"
)

// Operation names carried by TransactionHandle
const (
	OperationGrant           = "grant"
	OperationRevoke          = "revoke"
	OperationTrustServer     = "trustServer"
	OperationUntrustServer   = "untrustServer"
	OperationRegisterGrantee = "registerGrantee"
)

// GrantParams describe a permission to grant.
type GrantParams = grantfile.Params

// GrantResult is the outcome of Grant. When an equivalent active grant
// already exists, Reused is set, Existing holds it and nothing is signed.
type GrantResult struct {
	Handle   *TransactionHandle    `json:"handle,omitempty"`
	GrantURL string                `json:"grantUrl"`
	Reused   bool                  `json:"reused"`
	Existing *grantfile.Permission `json:"existing,omitempty"`
}

// TrustServerParams identify a server to trust.
type TrustServerParams struct {
	ServerID  common.Address `json:"serverId"`
	ServerURL string         `json:"serverUrl"`
}

// RegisterGranteeParams describe a grantee registration. Owner defaults to
// the wallet account.
type RegisterGranteeParams struct {
	Owner          *common.Address `json:"owner,omitempty"`
	GranteeAddress common.Address  `json:"granteeAddress"`
	PublicKey      string          `json:"publicKey"`
}

// Grant grants params.Grantee access to params.Files.
//
// With a Fetcher configured, the account's active permissions are checked
// first and an equivalent grant is returned instead of creating a new one.
// Otherwise the grant file is stored (unless params.GrantURL is set) and a
// Permission message is signed and submitted.
func (c *Client) Grant(ctx context.Context, params GrantParams, opts *wallet.TransactionOptions) (*GrantResult, error) {
	// Validation before any I/O
	if params.GrantURL == "" && !c.grants.CanStore() {
		return nil, perrors.InvalidConfiguration("a grant URL, a store callback or a storage backend is required to create a grant")
	}
	if params.Operation == "" {
		return nil, perrors.InvalidConfiguration("grant operation is required")
	}

	user, err := c.resolver.ResolveUserAddress(ctx)
	if err != nil {
		return nil, err
	}

	// 1. Reuse an equivalent active grant
	if existing, ok := c.findEquivalent(ctx, user, params); ok {
		c.logger.Info("reusing equivalent grant",
			zap.String("user", user.Hex()),
			zap.Stringer("permission_id", existing.ID),
		)
		return &GrantResult{GrantURL: existing.Grant, Reused: true, Existing: existing}, nil
	}

	// 2. Store the grant file
	grantURL, err := c.grants.CreateAndStore(ctx, params, user)
	if err != nil {
		return nil, perrors.Normalize(err, perrors.KindNetwork, "failed to store grant file")
	}

	// 3. Sign and submit
	fileIDs := make([]*big.Int, 0, len(params.Files))
	for _, id := range params.Files {
		fileIDs = append(fileIDs, new(big.Int).SetUint64(id))
	}
	handle, err := submitSigned(ctx, c, user, signedOperation[eip712.PermissionMessage]{
		name:       OperationGrant,
		contract:   chain.DataPermissions,
		domainName: eip712.DataPermissionsDomain,
		relayerOp:  relayer.OpPermissionGrant,
		function:   chain.FnAddPermission,
		message: func(n *big.Int) eip712.PermissionMessage {
			return eip712.PermissionMessage{Nonce: n, Grant: grantURL, FileIDs: fileIDs}
		},
		compose: eip712.ComposeGrant,
	}, opts)
	if err != nil {
		return nil, err
	}
	return &GrantResult{Handle: handle, GrantURL: grantURL}, nil
}

// findEquivalent looks for a reusable grant. Lookup failures are logged and
// treated as no match, so a new grant is created.
func (c *Client) findEquivalent(ctx context.Context, user common.Address, params GrantParams) (*grantfile.Permission, bool) {
	if c.fetcher == nil {
		return nil, false
	}
	existing, err := c.GetUserPermissions(ctx, user)
	if err != nil {
		c.logger.Warn("failed to load existing permissions, creating a new grant",
			zap.String("user", user.Hex()),
			zap.Error(err),
		)
		return nil, false
	}
	return grantfile.FindEquivalent(existing, params)
}

// Revoke revokes permissionID with a signed RevokePermission message.
func (c *Client) Revoke(ctx context.Context, permissionID *big.Int, opts *wallet.TransactionOptions) (*TransactionHandle, error) {
	if permissionID == nil {
		return nil, perrors.Permission("permission id is required", nil)
	}
	user, err := c.resolver.ResolveUserAddress(ctx)
	if err != nil {
		return nil, err
	}
	id := new(big.Int).Set(permissionID)

	return submitSigned(ctx, c, user, signedOperation[eip712.RevokePermissionMessage]{
		name:       OperationRevoke,
		contract:   chain.DataPermissions,
		domainName: eip712.DataPermissionsDomain,
		relayerOp:  relayer.OpPermissionRevoke,
		function:   chain.FnRevokePermissionWithSignature,
		message: func(n *big.Int) eip712.RevokePermissionMessage {
			return eip712.RevokePermissionMessage{Nonce: n, PermissionID: id}
		},
		compose: eip712.ComposeRevoke,
	}, opts)
}

// TrustServer adds a server to the account's trusted set with a signed
// TrustServer message.
func (c *Client) TrustServer(ctx context.Context, params TrustServerParams, opts *wallet.TransactionOptions) (*TransactionHandle, error) {
	if err := validateServer(params.ServerID); err != nil {
		return nil, err
	}
	user, err := c.resolver.ResolveUserAddress(ctx)
	if err != nil {
		return nil, err
	}

	return submitSigned(ctx, c, user, signedOperation[eip712.TrustServerMessage]{
		name:       OperationTrustServer,
		contract:   chain.DataPortabilityServers,
		domainName: eip712.DataPortabilityServersDomain,
		relayerOp:  relayer.OpTrustServer,
		function:   chain.FnTrustServerWithSignature,
		message: func(n *big.Int) eip712.TrustServerMessage {
			return eip712.TrustServerMessage{Nonce: n, ServerID: params.ServerID, ServerURL: params.ServerURL}
		},
		compose: eip712.ComposeTrustServer,
	}, opts)
}

// UntrustServer removes a server from the account's trusted set with a
// signed UntrustServer message.
func (c *Client) UntrustServer(ctx context.Context, serverID common.Address, opts *wallet.TransactionOptions) (*TransactionHandle, error) {
	if err := validateServer(serverID); err != nil {
		return nil, err
	}
	user, err := c.resolver.ResolveUserAddress(ctx)
	if err != nil {
		return nil, err
	}

	return submitSigned(ctx, c, user, signedOperation[eip712.UntrustServerMessage]{
		name:       OperationUntrustServer,
		contract:   chain.DataPortabilityServers,
		domainName: eip712.DataPortabilityServersDomain,
		relayerOp:  relayer.OpUntrustServer,
		function:   chain.FnUntrustServerWithSignature,
		message: func(n *big.Int) eip712.UntrustServerMessage {
			return eip712.UntrustServerMessage{Nonce: n, ServerID: serverID}
		},
		compose: eip712.ComposeUntrustServer,
	}, opts)
}

// RegisterGrantee registers a grantee and its public key with a signed
// RegisterGrantee message.
func (c *Client) RegisterGrantee(ctx context.Context, params RegisterGranteeParams, opts *wallet.TransactionOptions) (*TransactionHandle, error) {
	if params.GranteeAddress == (common.Address{}) {
		return nil, perrors.InvalidConfiguration("grantee address is required")
	}
	if params.PublicKey == "" {
		return nil, perrors.InvalidConfiguration("grantee public key is required")
	}
	user, err := c.resolver.ResolveUserAddress(ctx)
	if err != nil {
		return nil, err
	}
	owner := user
	if params.Owner != nil {
		owner = *params.Owner
	}

	return submitSigned(ctx, c, user, signedOperation[eip712.RegisterGranteeMessage]{
		name:       OperationRegisterGrantee,
		contract:   chain.DataPortabilityGrantees,
		domainName: eip712.DataPortabilityGranteesDomain,
		relayerOp:  relayer.OpRegisterGrantee,
		function:   chain.FnRegisterGranteeWithSignature,
		message: func(n *big.Int) eip712.RegisterGranteeMessage {
			return eip712.RegisterGranteeMessage{
				Nonce:          n,
				Owner:          owner,
				GranteeAddress: params.GranteeAddress,
				PublicKey:      params.PublicKey,
			}
		},
		compose: eip712.ComposeRegisterGrantee,
	}, opts)
}

// RevokeDirect revokes permissionID with an unsigned revokePermission call
// paid by the wallet.
func (c *Client) RevokeDirect(ctx context.Context, permissionID *big.Int, opts *wallet.TransactionOptions) (*TransactionHandle, error) {
	if permissionID == nil {
		return nil, perrors.Permission("permission id is required", nil)
	}
	return c.submitUnsigned(ctx, OperationRevoke, chain.DataPermissions, chain.FnRevokePermission,
		[]any{new(big.Int).Set(permissionID)}, opts)
}

// TrustServerDirect trusts a server with an unsigned trustServer call paid
// by the wallet.
func (c *Client) TrustServerDirect(ctx context.Context, params TrustServerParams, opts *wallet.TransactionOptions) (*TransactionHandle, error) {
	if err := validateServer(params.ServerID); err != nil {
		return nil, err
	}
	return c.submitUnsigned(ctx, OperationTrustServer, chain.DataPortabilityServers, chain.FnTrustServer,
		[]any{params.ServerID, params.ServerURL}, opts)
}

// UntrustServerDirect untrusts a server with an unsigned untrustServer call
// paid by the wallet.
func (c *Client) UntrustServerDirect(ctx context.Context, serverID common.Address, opts *wallet.TransactionOptions) (*TransactionHandle, error) {
	if err := validateServer(serverID); err != nil {
		return nil, err
	}
	return c.submitUnsigned(ctx, OperationUntrustServer, chain.DataPortabilityServers, chain.FnUntrustServer,
		[]any{serverID}, opts)
}

func validateServer(serverID common.Address) error {
	if serverID == (common.Address{}) {
		return perrors.InvalidConfiguration("server id is required")
	}
	return nil
}

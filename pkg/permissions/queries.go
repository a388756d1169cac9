package permissions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ahwlsqja/permission-client/pkg/chain"
	perrors "github.com/ahwlsqja/permission-client/pkg/errors"
	"github.com/ahwlsqja/permission-client/pkg/grantfile"
)

// TrustedServer is a server in an account's trusted set.
type TrustedServer struct {
	ServerID  common.Address `json:"serverId"`
	ServerURL string         `json:"serverUrl"`
	PublicKey string         `json:"publicKey,omitempty"`
}

// permissionRecord mirrors the permissions(uint256) output tuple.
type permissionRecord struct {
	Id       *big.Int
	Grantor  common.Address
	Nonce    *big.Int
	Grant    string
	IsActive bool
	FileIds  []*big.Int
}

// serverRecord mirrors the servers(address) output tuple.
type serverRecord struct {
	Id        common.Address
	Url       string
	PublicKey string
}

// GetUserPermissions lists the permissions granted by user. When a Fetcher
// is configured each grant file is read to fill in grantee, operation and
// parameters; a grant file that cannot be read leaves those fields empty.
func (c *Client) GetUserPermissions(ctx context.Context, user common.Address) ([]grantfile.Permission, error) {
	addr, err := c.contractAddress(chain.DataPermissions)
	if err != nil {
		return nil, err
	}
	contractABI, err := chain.ABI(chain.DataPermissions)
	if err != nil {
		return nil, perrors.InvalidConfiguration(err.Error())
	}

	values, err := callView(ctx, c.chain, addr, contractABI, chain.FnUserPermissionIDs, user)
	if err != nil {
		return nil, perrors.Permission("failed to read permission ids", err)
	}
	ids, ok := values[0].([]*big.Int)
	if !ok {
		return nil, perrors.Permission("unexpected permission ids type", fmt.Errorf("got %T", values[0]))
	}

	permissions := make([]grantfile.Permission, 0, len(ids))
	for _, id := range ids {
		p, err := c.readPermission(ctx, addr, contractABI, id)
		if err != nil {
			return nil, perrors.Permission(fmt.Sprintf("failed to read permission %s", id), err)
		}
		permissions = append(permissions, *p)
	}
	return permissions, nil
}

func (c *Client) readPermission(ctx context.Context, addr common.Address, contractABI abi.ABI, id *big.Int) (*grantfile.Permission, error) {
	values, err := callView(ctx, c.chain, addr, contractABI, chain.FnPermissions, id)
	if err != nil {
		return nil, err
	}
	rec, ok := abi.ConvertType(values[0], new(permissionRecord)).(*permissionRecord)
	if !ok {
		return nil, fmt.Errorf("unexpected permission type %T", values[0])
	}

	p := &grantfile.Permission{
		ID:      id,
		Grantor: rec.Grantor.Hex(),
		Grant:   rec.Grant,
		Active:  rec.IsActive,
		Nonce:   rec.Nonce,
		Files:   make([]uint64, 0, len(rec.FileIds)),
	}
	for _, f := range rec.FileIds {
		p.Files = append(p.Files, f.Uint64())
	}

	if c.fetcher == nil || rec.Grant == "" {
		return p, nil
	}
	g, err := grantfile.Fetch(ctx, c.fetcher, rec.Grant)
	if err != nil {
		c.logger.Warn("failed to read grant file",
			zap.Stringer("permission_id", id),
			zap.String("grant", rec.Grant),
			zap.Error(err),
		)
		return p, nil
	}
	g.Apply(p)
	return p, nil
}

// GetTrustedServers lists the servers user trusts.
func (c *Client) GetTrustedServers(ctx context.Context, user common.Address) ([]TrustedServer, error) {
	addr, err := c.contractAddress(chain.DataPortabilityServers)
	if err != nil {
		return nil, err
	}
	contractABI, err := chain.ABI(chain.DataPortabilityServers)
	if err != nil {
		return nil, perrors.InvalidConfiguration(err.Error())
	}

	values, err := callView(ctx, c.chain, addr, contractABI, chain.FnUserServerIDs, user)
	if err != nil {
		return nil, perrors.Permission("failed to read trusted server ids", err)
	}
	ids, ok := values[0].([]common.Address)
	if !ok {
		return nil, perrors.Permission("unexpected server ids type", fmt.Errorf("got %T", values[0]))
	}

	servers := make([]TrustedServer, 0, len(ids))
	for _, id := range ids {
		out, err := callView(ctx, c.chain, addr, contractABI, chain.FnServers, id)
		if err != nil {
			return nil, perrors.Permission(fmt.Sprintf("failed to read server %s", id.Hex()), err)
		}
		rec, ok := abi.ConvertType(out[0], new(serverRecord)).(*serverRecord)
		if !ok {
			return nil, perrors.Permission("unexpected server type", fmt.Errorf("got %T", out[0]))
		}
		servers = append(servers, TrustedServer{ServerID: id, ServerURL: rec.Url, PublicKey: rec.PublicKey})
	}
	return servers, nil
}

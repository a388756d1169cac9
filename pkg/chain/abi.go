package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Logical contract names
const (
	DataPermissions         = "DataPermissions"
	DataPortabilityServers  = "DataPortabilityServers"
	DataPortabilityGrantees = "DataPortabilityGrantees"
)

// On-chain function names
const (
	FnUserNonce                     = "userNonce"
	FnAddPermission                 = "addPermission"
	FnRevokePermission              = "revokePermission"
	FnRevokePermissionWithSignature = "revokePermissionWithSignature"
	FnTrustServer                   = "trustServer"
	FnTrustServerWithSignature      = "trustServerWithSignature"
	FnUntrustServer                 = "untrustServer"
	FnUntrustServerWithSignature    = "untrustServerWithSignature"
	FnRegisterGranteeWithSignature  = "registerGranteeWithSignature"
	FnUserPermissionIDs             = "userPermissionIdsValues"
	FnPermissions                   = "permissions"
	FnUserServerIDs                 = "userServerIdsValues"
	FnServers                       = "servers"
)

// Event names
const (
	EventPermissionAdded   = "PermissionAdded"
	EventPermissionRevoked = "PermissionRevoked"
	EventServerTrusted     = "ServerTrusted"
	EventServerUntrusted   = "ServerUntrusted"
	EventGranteeRegistered = "GranteeRegistered"
)

const userNonceABI = `{"type":"function","name":"userNonce","stateMutability":"view",
  "inputs":[{"name":"user","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]}`

const dataPermissionsABI = `[` + userNonceABI + `,
{"type":"function","name":"addPermission","stateMutability":"nonpayable",
  "inputs":[
    {"name":"permission","type":"tuple","components":[
      {"name":"nonce","type":"uint256"},
      {"name":"grant","type":"string"},
      {"name":"fileIds","type":"uint256[]"}]},
    {"name":"signature","type":"bytes"}],
  "outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"revokePermission","stateMutability":"nonpayable",
  "inputs":[{"name":"permissionId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"revokePermissionWithSignature","stateMutability":"nonpayable",
  "inputs":[
    {"name":"revokePermissionInput","type":"tuple","components":[
      {"name":"nonce","type":"uint256"},
      {"name":"permissionId","type":"uint256"}]},
    {"name":"signature","type":"bytes"}],
  "outputs":[]},
{"type":"function","name":"userPermissionIdsValues","stateMutability":"view",
  "inputs":[{"name":"user","type":"address"}],
  "outputs":[{"name":"","type":"uint256[]"}]},
{"type":"function","name":"permissions","stateMutability":"view",
  "inputs":[{"name":"permissionId","type":"uint256"}],
  "outputs":[{"name":"","type":"tuple","components":[
    {"name":"id","type":"uint256"},
    {"name":"grantor","type":"address"},
    {"name":"nonce","type":"uint256"},
    {"name":"grant","type":"string"},
    {"name":"isActive","type":"bool"},
    {"name":"fileIds","type":"uint256[]"}]}]},
{"type":"event","name":"PermissionAdded","anonymous":false,
  "inputs":[
    {"name":"permissionId","type":"uint256","indexed":true},
    {"name":"user","type":"address","indexed":true},
    {"name":"grant","type":"string","indexed":false},
    {"name":"fileIds","type":"uint256[]","indexed":false}]},
{"type":"event","name":"PermissionRevoked","anonymous":false,
  "inputs":[{"name":"permissionId","type":"uint256","indexed":true}]}
]`

const dataPortabilityServersABI = `[` + userNonceABI + `,
{"type":"function","name":"trustServer","stateMutability":"nonpayable",
  "inputs":[{"name":"serverId","type":"address"},{"name":"serverUrl","type":"string"}],"outputs":[]},
{"type":"function","name":"trustServerWithSignature","stateMutability":"nonpayable",
  "inputs":[
    {"name":"trustServerInput","type":"tuple","components":[
      {"name":"nonce","type":"uint256"},
      {"name":"serverId","type":"address"},
      {"name":"serverUrl","type":"string"}]},
    {"name":"signature","type":"bytes"}],
  "outputs":[]},
{"type":"function","name":"untrustServer","stateMutability":"nonpayable",
  "inputs":[{"name":"serverId","type":"address"}],"outputs":[]},
{"type":"function","name":"untrustServerWithSignature","stateMutability":"nonpayable",
  "inputs":[
    {"name":"untrustServerInput","type":"tuple","components":[
      {"name":"nonce","type":"uint256"},
      {"name":"serverId","type":"address"}]},
    {"name":"signature","type":"bytes"}],
  "outputs":[]},
{"type":"function","name":"userServerIdsValues","stateMutability":"view",
  "inputs":[{"name":"user","type":"address"}],
  "outputs":[{"name":"","type":"address[]"}]},
{"type":"function","name":"servers","stateMutability":"view",
  "inputs":[{"name":"serverId","type":"address"}],
  "outputs":[{"name":"","type":"tuple","components":[
    {"name":"id","type":"address"},
    {"name":"url","type":"string"},
    {"name":"publicKey","type":"string"}]}]},
{"type":"event","name":"ServerTrusted","anonymous":false,
  "inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"serverId","type":"address","indexed":true},
    {"name":"serverUrl","type":"string","indexed":false}]},
{"type":"event","name":"ServerUntrusted","anonymous":false,
  "inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"serverId","type":"address","indexed":true}]}
]`

const dataPortabilityGranteesABI = `[` + userNonceABI + `,
{"type":"function","name":"registerGranteeWithSignature","stateMutability":"nonpayable",
  "inputs":[
    {"name":"registerGranteeInput","type":"tuple","components":[
      {"name":"nonce","type":"uint256"},
      {"name":"owner","type":"address"},
      {"name":"granteeAddress","type":"address"},
      {"name":"publicKey","type":"string"}]},
    {"name":"signature","type":"bytes"}],
  "outputs":[{"name":"","type":"uint256"}]},
{"type":"event","name":"GranteeRegistered","anonymous":false,
  "inputs":[
    {"name":"granteeId","type":"uint256","indexed":true},
    {"name":"grantee","type":"address","indexed":true},
    {"name":"owner","type":"address","indexed":true},
    {"name":"publicKey","type":"string","indexed":false}]}
]`

var contractABIs = map[string]abi.ABI{
	DataPermissions:         mustParseABI(dataPermissionsABI),
	DataPortabilityServers:  mustParseABI(dataPortabilityServersABI),
	DataPortabilityGrantees: mustParseABI(dataPortabilityGranteesABI),
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: invalid contract ABI: %v", err))
	}
	return parsed
}

// ABI returns the ABI of the named protocol contract.
func ABI(contract string) (abi.ABI, error) {
	parsed, ok := contractABIs[contract]
	if !ok {
		return abi.ABI{}, fmt.Errorf("%w: %s", ErrUnknownContract, contract)
	}
	return parsed, nil
}

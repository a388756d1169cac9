// Package chain holds the static metadata of the protocol contracts and the
// helpers that turn mined transactions back into protocol results.
package chain

import (
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

//go:embed contracts.yaml
var defaultContractsYAML []byte

// Error definitions
var (
	ErrUnknownContract = errors.New("unknown contract")
	ErrUnknownChain    = errors.New("no contract deployment for chain")
)

// Registry resolves (chainId, logical contract name) to a deployed address.
type Registry struct {
	deployments map[uint64]map[string]common.Address
}

type registryFile struct {
	Chains map[string]map[string]string `yaml:"chains"`
}

// DefaultRegistry returns the registry of known deployments.
func DefaultRegistry() *Registry {
	r, err := ParseRegistry(defaultContractsYAML)
	if err != nil {
		panic(fmt.Sprintf("chain: invalid embedded contracts.yaml: %v", err))
	}
	return r
}

// LoadRegistry reads deployments from a YAML file and layers them over the
// embedded defaults. An empty path returns the defaults.
func LoadRegistry(path string) (*Registry, error) {
	base := DefaultRegistry()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contracts file: %w", err)
	}
	override, err := ParseRegistry(data)
	if err != nil {
		return nil, err
	}
	for chainID, contracts := range override.deployments {
		for name, addr := range contracts {
			base.Set(chainID, name, addr)
		}
	}
	return base, nil
}

// ParseRegistry decodes a YAML deployments document.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse contracts yaml: %w", err)
	}

	r := &Registry{deployments: make(map[uint64]map[string]common.Address)}
	for rawID, contracts := range file.Chains {
		chainID, err := strconv.ParseUint(rawID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q: %w", rawID, err)
		}
		for name, addr := range contracts {
			if !common.IsHexAddress(addr) {
				return nil, fmt.Errorf("invalid address for %s on chain %d: %q", name, chainID, addr)
			}
			if _, ok := contractABIs[name]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownContract, name)
			}
			r.Set(chainID, name, common.HexToAddress(addr))
		}
	}
	return r, nil
}

// Set records a deployment, replacing any previous address.
func (r *Registry) Set(chainID uint64, contract string, addr common.Address) {
	if r.deployments[chainID] == nil {
		r.deployments[chainID] = make(map[string]common.Address)
	}
	r.deployments[chainID][contract] = addr
}

// Address returns the deployed address of contract on chainID.
func (r *Registry) Address(chainID *big.Int, contract string) (common.Address, error) {
	if chainID == nil || !chainID.IsUint64() {
		return common.Address{}, fmt.Errorf("%w: %v", ErrUnknownChain, chainID)
	}
	contracts, ok := r.deployments[chainID.Uint64()]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %d", ErrUnknownChain, chainID.Uint64())
	}
	addr, ok := contracts[contract]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s on chain %d", ErrUnknownContract, contract, chainID.Uint64())
	}
	return addr, nil
}

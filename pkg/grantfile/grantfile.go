// Package grantfile builds, validates and deduplicates the off-chain grant
// documents that on-chain permissions point to.
package grantfile

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ahwlsqja/permission-client/pkg/storage"
)

// GrantFile is the JSON document stored at a permission's grant URL. It is
// never modified once stored.
type GrantFile struct {
	Grantee    string         `json:"grantee"`
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters"`
	Files      []uint64       `json:"files,omitempty"`
	Expires    int64          `json:"expires"`
}

// Params describe a requested grant.
type Params struct {
	Grantee    common.Address
	Operation  string
	Files      []uint64
	Parameters map[string]any
	// ExpiresAt is a unix timestamp in seconds; zero never expires
	ExpiresAt int64
	// GrantURL, when set, is used as is and nothing is stored
	GrantURL string
}

// Permission is a permission as read back from the registry, enriched with
// the content of its grant file.
type Permission struct {
	ID         *big.Int       `json:"id,omitempty"`
	Grantor    string         `json:"grantor"`
	Grantee    string         `json:"grantee"`
	Operation  string         `json:"operation"`
	Files      []uint64       `json:"files"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Grant      string         `json:"grant"`
	Active     bool           `json:"active"`
	Nonce      *big.Int       `json:"nonce,omitempty"`
}

// New builds the document for params.
func New(params Params) *GrantFile {
	parameters := params.Parameters
	if parameters == nil {
		parameters = map[string]any{}
	}
	var files []uint64
	if len(params.Files) > 0 {
		files = append(files, params.Files...)
	}
	return &GrantFile{
		Grantee:    params.Grantee.Hex(),
		Operation:  params.Operation,
		Parameters: parameters,
		Files:      files,
		Expires:    params.ExpiresAt,
	}
}

// Marshal validates g and encodes it.
func (g *GrantFile) Marshal() ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode grant file: %w", err)
	}
	if err := Validate(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Parse decodes and validates a grant file document.
func Parse(data []byte) (*GrantFile, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var g GrantFile
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to decode grant file: %w", err)
	}
	return &g, nil
}

// Fetch retrieves and parses the grant file at url.
func Fetch(ctx context.Context, fetcher storage.Fetcher, url string) (*GrantFile, error) {
	data, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch grant file %s: %w", url, err)
	}
	return Parse(data)
}

// Apply copies the grant file terms onto p.
func (g *GrantFile) Apply(p *Permission) {
	p.Grantee = g.Grantee
	p.Operation = g.Operation
	p.Parameters = g.Parameters
	if len(p.Files) == 0 && len(g.Files) > 0 {
		p.Files = append([]uint64(nil), g.Files...)
	}
}

// uploadName is the storage name of a grant file issued by grantor.
func uploadName(grantor common.Address, operation string) string {
	return fmt.Sprintf("grant-%s-%s.json", strings.ToLower(grantor.Hex()), operation)
}

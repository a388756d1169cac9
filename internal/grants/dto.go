package grants

import (
	"time"

	"github.com/ahwlsqja/permission-client/pkg/storage/sqlstore"
)

// ============================================================================
// Request DTOs
// ============================================================================

// StoreGrantQuery carries the optional storage name of an uploaded grant file
type StoreGrantQuery struct {
	Name string `form:"name" binding:"omitempty,max=255" example:"grant-0xabc-llm_inference.json"`
}

// GetGrantURI identifies a stored grant file by content hash
type GetGrantURI struct {
	Hash string `uri:"hash" binding:"required,len=66,startswith=0x" example:"0x3f7c...e1"`
}

// ============================================================================
// Response DTOs
// ============================================================================

// GrantFileResponse describes a stored grant file
type GrantFileResponse struct {
	URL       string    `json:"url" example:"http://localhost:8080/api/v1/grants/0x3f7c...e1"`
	Hash      string    `json:"hash" example:"0x3f7c...e1"`
	Name      string    `json:"name,omitempty"`
	Created   bool      `json:"created"`
	CreatedAt time.Time `json:"created_at"`
}

// ============================================================================
// Converters
// ============================================================================

// ToGrantFileResponse converts a stored record to its API form
func ToGrantFileResponse(rec *sqlstore.Record, url string, created bool) *GrantFileResponse {
	if rec == nil {
		return nil
	}
	return &GrantFileResponse{
		URL:       url,
		Hash:      rec.Hash.Hex(),
		Name:      rec.Name,
		Created:   created,
		CreatedAt: rec.CreatedAt,
	}
}

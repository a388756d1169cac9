package grants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahwlsqja/permission-client/internal/common/middleware"
	"github.com/ahwlsqja/permission-client/pkg/grantfile"
	"github.com/ahwlsqja/permission-client/pkg/storage"
	"github.com/ahwlsqja/permission-client/pkg/storage/sqlstore"
)

// memoryRepo is an in-memory Repository.
type memoryRepo struct {
	mu      sync.Mutex
	baseURL string
	records map[common.Hash]*sqlstore.Record
	gets    int
	failPut error
}

func newMemoryRepo(baseURL string) *memoryRepo {
	return &memoryRepo{baseURL: baseURL, records: map[common.Hash]*sqlstore.Record{}}
}

func (r *memoryRepo) Put(ctx context.Context, name string, content []byte) (*sqlstore.Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failPut != nil {
		return nil, false, r.failPut
	}
	hash := crypto.Keccak256Hash(content)
	if rec, ok := r.records[hash]; ok {
		return rec, false, nil
	}
	rec := &sqlstore.Record{Hash: hash, Name: name, Content: content, CreatedAt: time.Now().UTC()}
	r.records[hash] = rec
	return rec, true, nil
}

func (r *memoryRepo) Get(ctx context.Context, hash common.Hash) (*sqlstore.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	rec, ok := r.records[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, hash.Hex())
	}
	return rec, nil
}

func (r *memoryRepo) URL(hash common.Hash) string {
	return r.baseURL + "/" + hash.Hex()
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (c *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func setupRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.RequestID())
	NewHandler(svc).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func validGrant(t *testing.T) []byte {
	t.Helper()
	data, err := grantfile.New(grantfile.Params{
		Grantee:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Operation:  "llm_inference",
		Files:      []uint64{1},
		Parameters: map[string]any{"prompt": "hi"},
	}).Marshal()
	require.NoError(t, err)
	return data
}

func TestStoreGrant(t *testing.T) {
	repo := newMemoryRepo("http://grants.test/api/v1/grants")
	router := setupRouter(NewService(repo, nil, 0, 4096, nil))
	body := validGrant(t)

	post := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/grants?name=g.json", strings.NewReader(string(body)))
		router.ServeHTTP(w, req)
		return w
	}

	w := post()
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Data GrantFileResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.Data.Created)
	assert.Equal(t, "g.json", created.Data.Name)
	assert.Equal(t, repo.URL(crypto.Keccak256Hash(body)), created.Data.URL)

	w = post()
	assert.Equal(t, http.StatusOK, w.Code, "identical document is not stored twice")
	assert.Len(t, repo.records, 1)
}

func TestStoreGrantRejectsInvalidDocuments(t *testing.T) {
	router := setupRouter(NewService(newMemoryRepo("http://x"), nil, 0, 64, nil))

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"not json", "{", http.StatusBadRequest, "INVALID_INPUT"},
		{"missing grantee", `{"operation":"x","parameters":{},"expires":0}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"too large", `{"padding":"` + strings.Repeat("a", 100) + `"}`, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/grants", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, w.Code)

			var resp middleware.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.RequestID)
		})
	}
}

func TestStoreGrantDatabaseFailure(t *testing.T) {
	repo := newMemoryRepo("http://x")
	repo.failPut = errors.New("deadlock")
	router := setupRouter(NewService(repo, nil, 0, 4096, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/grants", strings.NewReader(string(validGrant(t)))))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "deadlock")
}

func TestGetGrantUsesCache(t *testing.T) {
	repo := newMemoryRepo("http://x")
	cache := &mapCache{entries: map[string][]byte{}}
	svc := NewService(repo, cache, time.Hour, 4096, nil)
	router := setupRouter(svc)

	body := validGrant(t)
	rec, _, err := repo.Put(context.Background(), "g.json", body)
	require.NoError(t, err)
	path := "/api/v1/grants/" + rec.Hash.Hex()

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, string(body), w.Body.String())
	}
	assert.Equal(t, 1, repo.gets)
}

func TestGetGrantErrors(t *testing.T) {
	router := setupRouter(NewService(newMemoryRepo("http://x"), nil, 0, 4096, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/grants/0x1234", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/grants/"+common.HexToHash("0x01").Hex(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTPStorageRoundTrip(t *testing.T) {
	repo := newMemoryRepo("")
	srv := httptest.NewServer(setupRouter(NewService(repo, nil, 0, 4096, nil)))
	defer srv.Close()
	repo.baseURL = srv.URL + "/api/v1/grants"

	body := validGrant(t)
	url, err := storage.NewHTTPStorage(srv.URL+"/api/v1/grants", srv.Client(), nil).Upload(context.Background(), "g.json", body)
	require.NoError(t, err)

	g, err := grantfile.Fetch(context.Background(), storage.NewHTTPFetcher(srv.Client(), nil), url)
	require.NoError(t, err)
	assert.Equal(t, "llm_inference", g.Operation)

	_, err = storage.NewHTTPFetcher(srv.Client(), nil).Fetch(context.Background(), repo.URL(common.HexToHash("0x02")))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// Package sqlstore keeps grant files in MySQL, addressed by the keccak256
// hash of their content.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/ahwlsqja/permission-client/pkg/db"
	"github.com/ahwlsqja/permission-client/pkg/storage"
)

const mysqlErrDuplicateEntry = 1062

const schema = `CREATE TABLE IF NOT EXISTS grant_files (
  content_hash CHAR(66)     NOT NULL,
  name         VARCHAR(255) NOT NULL DEFAULT '',
  content      MEDIUMBLOB   NOT NULL,
  created_at   DATETIME(6)  NOT NULL,
  PRIMARY KEY (content_hash)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// Record is a stored grant file.
type Record struct {
	Hash      common.Hash `json:"hash"`
	Name      string      `json:"name"`
	Content   []byte      `json:"-"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Store is a content-addressed MySQL blob store.
type Store struct {
	runner  *db.TxRunner
	baseURL string
	logger  *zap.Logger
}

// Compile-time interface compliance check
var _ storage.Storage = (*Store)(nil)

// New creates a store whose URLs are baseURL + "/" + hash.
func New(database *sql.DB, baseURL string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		runner:  db.NewTxRunner(database),
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Migrate creates the grant_files table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.runner.Querier().ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate grant_files: %w", err)
	}
	return nil
}

// URL returns the public URL of hash.
func (s *Store) URL(hash common.Hash) string {
	return s.baseURL + "/" + hash.Hex()
}

// Put stores content unless an identical document exists. created reports
// whether a new row was written.
func (s *Store) Put(ctx context.Context, name string, content []byte) (*Record, bool, error) {
	hash := crypto.Keccak256Hash(content)

	type outcome struct {
		rec     *Record
		created bool
	}
	out, err := db.WithTxResult(ctx, s.runner, func(q db.Querier) (outcome, error) {
		// 1. Lock an existing row so concurrent puts of the same content serialize
		existing, err := get(ctx, q, hash, true)
		if err == nil {
			return outcome{rec: existing}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return outcome{}, err
		}

		// 2. Insert the new document
		rec := &Record{Hash: hash, Name: name, Content: content, CreatedAt: time.Now().UTC()}
		_, err = q.ExecContext(ctx,
			`INSERT INTO grant_files (content_hash, name, content, created_at) VALUES (?, ?, ?, ?)`,
			hash.Hex(), name, content, rec.CreatedAt,
		)
		if err != nil {
			return outcome{}, fmt.Errorf("failed to insert grant file: %w", err)
		}
		return outcome{rec: rec, created: true}, nil
	})
	if isDuplicateEntry(err) {
		// A concurrent put inserted the same content first
		var rec *Record
		rec, err = s.Get(ctx, hash)
		out = outcome{rec: rec}
	}
	if err != nil {
		s.logger.Error("failed to store grant file",
			zap.String("hash", hash.Hex()),
			zap.Error(err),
		)
		return nil, false, err
	}

	s.logger.Debug("grant file stored",
		zap.String("hash", hash.Hex()),
		zap.Bool("created", out.created),
	)
	return out.rec, out.created, nil
}

// Get returns the document with hash, or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, hash common.Hash) (*Record, error) {
	return get(ctx, s.runner.Querier(), hash, false)
}

// Upload implements storage.Storage.
func (s *Store) Upload(ctx context.Context, name string, data []byte) (string, error) {
	rec, _, err := s.Put(ctx, name, data)
	if err != nil {
		return "", err
	}
	return s.URL(rec.Hash), nil
}

func get(ctx context.Context, q db.Querier, hash common.Hash, forUpdate bool) (*Record, error) {
	query := `SELECT content_hash, name, content, created_at FROM grant_files WHERE content_hash = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		rec     Record
		rawHash string
	)
	err := q.QueryRowContext(ctx, query, hash.Hex()).Scan(&rawHash, &rec.Name, &rec.Content, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, hash.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load grant file: %w", err)
	}
	rec.Hash = common.HexToHash(rawHash)
	return &rec, nil
}

func isDuplicateEntry(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDuplicateEntry
	}
	return false
}

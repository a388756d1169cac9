package grantfile

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	perrors "github.com/ahwlsqja/permission-client/pkg/errors"
	"github.com/ahwlsqja/permission-client/pkg/storage"
)

// ManagerConfig wires the storage paths a Manager may use. At most one of
// StoreFunc and Storage is consulted, StoreFunc first.
type ManagerConfig struct {
	StoreFunc storage.StoreFunc
	Storage   storage.Storage
	Logger    *zap.Logger
}

// Manager creates and stores grant files.
type Manager struct {
	storeFunc storage.StoreFunc
	storage   storage.Storage
	logger    *zap.Logger
}

// NewManager creates a manager from cfg.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		storeFunc: cfg.StoreFunc,
		storage:   cfg.Storage,
		logger:    logger,
	}
}

// CanStore reports whether a storage path is configured.
func (m *Manager) CanStore() bool {
	return m.storeFunc != nil || m.storage != nil
}

// CreateAndStore returns the grant URL for params. An explicit
// params.GrantURL is returned as is. Otherwise the document is built and
// stored through the store callback or the storage backend. With neither
// configured it fails with an invalid configuration error before any I/O.
func (m *Manager) CreateAndStore(ctx context.Context, params Params, grantor common.Address) (string, error) {
	if params.GrantURL != "" {
		return params.GrantURL, nil
	}

	var upload storage.Storage
	switch {
	case m.storeFunc != nil:
		upload = m.storeFunc
	case m.storage != nil:
		upload = m.storage
	default:
		return "", perrors.InvalidConfiguration("a grant URL, a store callback or a storage backend is required to create a grant")
	}

	data, err := New(params).Marshal()
	if err != nil {
		return "", perrors.InvalidConfiguration(err.Error()).WithError(err)
	}

	url, err := upload.Upload(ctx, uploadName(grantor, params.Operation), data)
	if err != nil {
		m.logger.Error("failed to store grant file",
			zap.String("grantor", grantor.Hex()),
			zap.String("operation", params.Operation),
			zap.Error(err),
		)
		return "", fmt.Errorf("failed to store grant file: %w", err)
	}

	m.logger.Info("grant file stored",
		zap.String("grantor", grantor.Hex()),
		zap.String("grantee", params.Grantee.Hex()),
		zap.String("url", url),
	)
	return url, nil
}

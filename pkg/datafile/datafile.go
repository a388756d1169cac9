// Package datafile uploads and retrieves user data files, optionally
// encrypted under a key derived from the user's wallet.
package datafile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/ahwlsqja/permission-client/pkg/ecies"
	perrors "github.com/ahwlsqja/permission-client/pkg/errors"
	"github.com/ahwlsqja/permission-client/pkg/storage"
	"github.com/ahwlsqja/permission-client/pkg/wallet"
)

// DefaultSeedMessage is signed by the wallet to derive the encryption key
const DefaultSeedMessage = "Please sign to retrieve your encryption key"

// Config wires the capabilities a Service uses.
type Config struct {
	Wallet  wallet.Wallet
	Storage storage.Storage
	Fetcher storage.Fetcher
	// SeedMessage overrides DefaultSeedMessage
	SeedMessage string
	Logger      *zap.Logger
}

// UploadParams describe a file upload.
type UploadParams struct {
	Data    []byte
	Name    string
	Encrypt bool
	// Owner defaults to the wallet address
	Owner *common.Address
}

// UploadResult describes a stored file.
type UploadResult struct {
	URL       string         `json:"url"`
	Owner     common.Address `json:"owner"`
	Encrypted bool           `json:"encrypted"`
	Size      int            `json:"size"`
}

// Service uploads and decrypts data files.
type Service struct {
	wallet  wallet.Wallet
	storage storage.Storage
	fetcher storage.Fetcher
	seed    string
	logger  *zap.Logger

	encrypt func(pub *secp256k1.PublicKey, plaintext []byte) (*ecies.Payload, error)
}

// NewService creates a service from cfg.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := cfg.SeedMessage
	if seed == "" {
		seed = DefaultSeedMessage
	}
	return &Service{
		wallet:  cfg.Wallet,
		storage: cfg.Storage,
		fetcher: cfg.Fetcher,
		seed:    seed,
		logger:  logger,
		encrypt: ecies.Encrypt,
	}
}

// Upload stores p.Data, encrypting it first when requested.
//
// An encrypted file is only readable with the key derived from the
// connected wallet, so an explicit owner that differs from the wallet
// address is rejected before any key derivation or storage I/O.
func (s *Service) Upload(ctx context.Context, p UploadParams) (*UploadResult, error) {
	if s.storage == nil {
		return nil, perrors.InvalidConfiguration("a storage backend is required to upload files")
	}

	// 1. Resolve owner and enforce the owner binding
	walletAddr, err := s.walletAddress(ctx)
	if err != nil {
		return nil, err
	}
	owner := walletAddr
	if p.Owner != nil {
		if p.Encrypt && !strings.EqualFold(p.Owner.Hex(), walletAddr.Hex()) {
			return nil, perrors.InvalidConfiguration(fmt.Sprintf(
				"cannot encrypt for owner %s with the key of wallet %s", p.Owner.Hex(), walletAddr.Hex(),
			)).WithDetails(map[string]any{
				"owner":  p.Owner.Hex(),
				"wallet": walletAddr.Hex(),
			})
		}
		owner = *p.Owner
	}

	// 2. Encrypt under the wallet-derived key
	data := p.Data
	if p.Encrypt {
		key, err := s.DeriveKey(ctx)
		if err != nil {
			return nil, err
		}
		payload, err := s.encrypt(key.PubKey(), p.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt file: %w", err)
		}
		data = payload.Bytes()
	}

	// 3. Store
	url, err := s.storage.Upload(ctx, p.Name, data)
	if err != nil {
		s.logger.Error("failed to upload file",
			zap.String("owner", owner.Hex()),
			zap.Bool("encrypted", p.Encrypt),
			zap.Error(err),
		)
		return nil, perrors.Network("failed to upload file", err)
	}

	s.logger.Info("file uploaded",
		zap.String("owner", owner.Hex()),
		zap.String("url", url),
		zap.Bool("encrypted", p.Encrypt),
		zap.Int("size", len(data)),
	)
	return &UploadResult{URL: url, Owner: owner, Encrypted: p.Encrypt, Size: len(data)}, nil
}

// DeriveKey asks the wallet to sign the seed message and uses the keccak256
// hash of the signature as a secp256k1 private key. Wallets sign
// deterministically, so the same wallet always derives the same key.
func (s *Service) DeriveKey(ctx context.Context) (*secp256k1.PrivateKey, error) {
	if s.wallet == nil {
		return nil, perrors.InvalidConfiguration("a wallet is required to derive the encryption key")
	}
	sig, err := s.wallet.SignMessage(ctx, []byte(s.seed))
	if err != nil {
		return nil, perrors.FromSigning(err, "failed to derive encryption key")
	}
	return secp256k1.PrivKeyFromBytes(crypto.Keccak256(sig)), nil
}

// PublicKey returns the public half of the wallet-derived key, which others
// use to encrypt files for this wallet.
func (s *Service) PublicKey(ctx context.Context) (*secp256k1.PublicKey, error) {
	key, err := s.DeriveKey(ctx)
	if err != nil {
		return nil, err
	}
	return key.PubKey(), nil
}

// Download fetches the raw bytes at url.
func (s *Service) Download(ctx context.Context, url string) ([]byte, error) {
	if s.fetcher == nil {
		return nil, perrors.InvalidConfiguration("a fetcher is required to download files")
	}
	data, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, ClassifyFetchError(err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	return data, nil
}

// Decrypt downloads url and decrypts it with the wallet-derived key.
func (s *Service) Decrypt(ctx context.Context, url string) ([]byte, error) {
	data, err := s.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	key, err := s.DeriveKey(ctx)
	if err != nil {
		return nil, err
	}
	return DecryptBytes(key, data)
}

// DecryptBytes decrypts a serialized payload with key.
func DecryptBytes(key *secp256k1.PrivateKey, data []byte) ([]byte, error) {
	payload, err := ecies.Parse(data)
	if err != nil {
		return nil, ClassifyDecryptError(err)
	}
	plaintext, err := ecies.Decrypt(key, payload)
	if err != nil {
		return nil, ClassifyDecryptError(err)
	}
	return plaintext, nil
}

func (s *Service) walletAddress(ctx context.Context) (common.Address, error) {
	if s.wallet == nil {
		return common.Address{}, perrors.InvalidConfiguration("a wallet is required to upload files")
	}
	addrs, err := s.wallet.Addresses(ctx)
	if err != nil {
		return common.Address{}, perrors.Signature("failed to read wallet address", err)
	}
	if len(addrs) == 0 {
		return common.Address{}, perrors.Signature("wallet exposes no accounts", wallet.ErrNoAccounts)
	}
	return addrs[0], nil
}

// Error definitions
var (
	ErrInvalidFormat = errors.New("invalid encrypted file format")
	ErrWrongKey      = errors.New("wrong decryption key")
	ErrFileNotFound  = errors.New("file not found")
	ErrAccessDenied  = errors.New("access denied to file")
	ErrEmptyFile     = errors.New("file is empty")
)

// ClassifyFetchError maps a storage failure onto the file errors. Failures
// other than denial, absence and emptiness are network errors.
func ClassifyFetchError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrAccessDenied):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrFileNotFound, err)
	case errors.Is(err, storage.ErrEmptyFile):
		return fmt.Errorf("%w: %v", ErrEmptyFile, err)
	default:
		return perrors.Normalize(err, perrors.KindNetwork, "failed to fetch file")
	}
}

// ClassifyDecryptError maps cipher failures by their text, since ciphers
// surface string errors. Unrecognized errors pass through unchanged.
func ClassifyDecryptError(err error) error {
	if err == nil {
		return nil
	}
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "not a valid openpgp message"),
		strings.Contains(text, "not a valid ecies message"):
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	case strings.Contains(text, "session key decryption failed"),
		strings.Contains(text, "error decrypting message"):
		return fmt.Errorf("%w: %v", ErrWrongKey, err)
	case strings.Contains(text, "file not found"):
		return fmt.Errorf("%w: %v", ErrFileNotFound, err)
	default:
		return err
	}
}

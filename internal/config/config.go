package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Chain    ChainConfig
	Client   ClientConfig
	Grants   GrantsConfig
}

type ServerConfig struct {
	Host         string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	Environment  string        `envconfig:"ENVIRONMENT" default:"development"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"3306"`
	User            string        `envconfig:"DB_USER" default:"app"`
	Password        string        `envconfig:"DB_PASSWORD" default:"apppassword"`
	Name            string        `envconfig:"DB_NAME" default:"permissions"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
}

type RedisConfig struct {
	Host        string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port        int           `envconfig:"REDIS_PORT" default:"6379"`
	Password    string        `envconfig:"REDIS_PASSWORD" default:""`
	DB          int           `envconfig:"REDIS_DB" default:"0"`
	DialTimeout time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	CacheTTL    time.Duration `envconfig:"REDIS_CACHE_TTL" default:"1h"`
}

// ChainConfig selects the network and its protocol contracts.
type ChainConfig struct {
	RPCURL         string        `envconfig:"CHAIN_RPC_URL" default:"http://localhost:8545"`
	ChainID        int64         `envconfig:"CHAIN_ID" default:"31337"`
	ContractsFile  string        `envconfig:"CONTRACTS_FILE" default:""`
	ReceiptTimeout time.Duration `envconfig:"CHAIN_RECEIPT_TIMEOUT" default:"2m"`
}

func (c ChainConfig) ChainIDBig() *big.Int {
	return big.NewInt(c.ChainID)
}

// ClientConfig configures the protocol client used by permctl.
type ClientConfig struct {
	PrivateKey     string        `envconfig:"PRIVATE_KEY" default:""`
	RelayerURL     string        `envconfig:"RELAYER_URL" default:""`
	GrantServerURL string        `envconfig:"GRANT_SERVER_URL" default:""`
	HTTPTimeout    time.Duration `envconfig:"CLIENT_HTTP_TIMEOUT" default:"30s"`
	FetchCacheSize int           `envconfig:"CLIENT_FETCH_CACHE_SIZE" default:"256"`
	NonceGuard     bool          `envconfig:"CLIENT_NONCE_GUARD" default:"false"`
}

// GrantsConfig configures the grant file service.
type GrantsConfig struct {
	PublicURL   string `envconfig:"GRANTS_PUBLIC_URL" default:"http://localhost:8080/api/v1/grants"`
	MaxFileSize int64  `envconfig:"GRANTS_MAX_FILE_SIZE" default:"65536"`
}

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

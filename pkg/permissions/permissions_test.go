package permissions

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahwlsqja/permission-client/pkg/chain"
	"github.com/ahwlsqja/permission-client/pkg/eip712"
	perrors "github.com/ahwlsqja/permission-client/pkg/errors"
	"github.com/ahwlsqja/permission-client/pkg/grantfile"
	"github.com/ahwlsqja/permission-client/pkg/nonce"
	"github.com/ahwlsqja/permission-client/pkg/relayer"
	"github.com/ahwlsqja/permission-client/pkg/storage"
	"github.com/ahwlsqja/permission-client/pkg/wallet"
)

var (
	testChainID = big.NewInt(31337)
	testGrantee = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testServer  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	testTxHash  = common.HexToHash("0x1234")
)

// fakeChain answers contract calls by method name and serves receipts.
type fakeChain struct {
	mu       sync.Mutex
	nonces   map[string]*big.Int
	perms    []permissionRecord
	servers  []serverRecord
	receipts map[common.Hash]*types.Receipt
	callErr  error
	calls    []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		nonces:   map[string]*big.Int{},
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.callErr != nil {
		return nil, f.callErr
	}
	name, err := contractAt(msg.To)
	if err != nil {
		return nil, err
	}
	contractABI, _ := chain.ABI(name)
	method, err := contractABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, fmt.Errorf("unknown method on %s: %w", name, err)
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, name+"."+method.Name)
	return f.answer(name, method, args)
}

// contractAt maps a call target back to its contract name through the
// default registry. Selectors such as userNonce are shared by all three
// contracts, so the target address decides.
func contractAt(to *common.Address) (string, error) {
	if to == nil {
		return "", errors.New("call without target")
	}
	registry := chain.DefaultRegistry()
	for _, name := range []string{chain.DataPermissions, chain.DataPortabilityServers, chain.DataPortabilityGrantees} {
		addr, err := registry.Address(testChainID, name)
		if err == nil && addr == *to {
			return name, nil
		}
	}
	return "", fmt.Errorf("no contract at %s", to.Hex())
}

func (f *fakeChain) answer(contract string, method *abi.Method, args []any) ([]byte, error) {
	switch method.Name {
	case chain.FnUserNonce:
		n, ok := f.nonces[contract]
		if !ok {
			n = big.NewInt(0)
		}
		return method.Outputs.Pack(n)
	case chain.FnUserPermissionIDs:
		ids := make([]*big.Int, 0, len(f.perms))
		for _, p := range f.perms {
			ids = append(ids, p.Id)
		}
		return method.Outputs.Pack(ids)
	case chain.FnPermissions:
		id := args[0].(*big.Int)
		for _, p := range f.perms {
			if p.Id.Cmp(id) == 0 {
				return method.Outputs.Pack(p)
			}
		}
		return nil, fmt.Errorf("no permission %s", id)
	case chain.FnUserServerIDs:
		ids := make([]common.Address, 0, len(f.servers))
		for _, s := range f.servers {
			ids = append(ids, s.Id)
		}
		return method.Outputs.Pack(ids)
	case chain.FnServers:
		id := args[0].(common.Address)
		for _, s := range f.servers {
			if s.Id == id {
				return method.Outputs.Pack(s)
			}
		}
		return nil, fmt.Errorf("no server %s", id.Hex())
	}
	return nil, fmt.Errorf("unexpected call %s", method.Name)
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// recordingWallet signs with a real key and records sends instead of
// broadcasting them.
type recordingWallet struct {
	*wallet.KeyWallet
	signErr   error
	sendErr   error
	signs     int
	addrCalls int
	sent      []wallet.ContractCall
}

func (w *recordingWallet) Addresses(ctx context.Context) ([]common.Address, error) {
	w.addrCalls++
	return w.KeyWallet.Addresses(ctx)
}

func (w *recordingWallet) SignTypedData(ctx context.Context, td *eip712.TypedMessage) ([]byte, error) {
	w.signs++
	if w.signErr != nil {
		return nil, w.signErr
	}
	return w.KeyWallet.SignTypedData(ctx, td)
}

func (w *recordingWallet) SendTransaction(ctx context.Context, call wallet.ContractCall) (common.Hash, error) {
	if w.sendErr != nil {
		return common.Hash{}, w.sendErr
	}
	w.sent = append(w.sent, call)
	return testTxHash, nil
}

type fixture struct {
	chain  *fakeChain
	wallet *recordingWallet
	store  *storage.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fixture{
		chain:  newFakeChain(),
		wallet: &recordingWallet{KeyWallet: wallet.NewKeyWallet(key, nil, testChainID, nil)},
		store:  storage.NewMemoryStore(),
	}
}

func (f *fixture) client(t *testing.T, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		Wallet:       f.wallet,
		Chain:        f.chain,
		ChainID:      testChainID,
		GrantStorage: f.store,
		Fetcher:      f.store,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func grantParams() GrantParams {
	return GrantParams{
		Grantee:    testGrantee,
		Operation:  "llm_inference",
		Files:      []uint64{1, 2},
		Parameters: map[string]any{"prompt": "summarize"},
	}
}

func TestNewValidatesConfig(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no wallet", Config{Chain: f.chain, ChainID: testChainID}},
		{"no chain", Config{Wallet: f.wallet, ChainID: testChainID}},
		{"no chain id", Config{Wallet: f.wallet, Chain: f.chain}},
		{"zero chain id", Config{Wallet: f.wallet, Chain: f.chain, ChainID: big.NewInt(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, perrors.ErrInvalidConfiguration)
		})
	}
}

func TestGrantViaRelayer(t *testing.T) {
	f := newFixture(t)
	f.chain.nonces[chain.DataPermissions] = big.NewInt(7)

	var got relayer.Request
	c := f.client(t, func(cfg *Config) {
		cfg.Relayer = relayer.Func(func(ctx context.Context, req relayer.Request) (*relayer.Response, error) {
			got = req
			return &relayer.Response{Type: relayer.TypeSigned, Hash: testTxHash}, nil
		})
	})

	res, err := c.Grant(context.Background(), grantParams(), nil)
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Equal(t, testTxHash, res.Handle.Hash)
	assert.True(t, res.Handle.ViaRelayer)
	assert.Equal(t, big.NewInt(7), res.Handle.Nonce)
	assert.Equal(t, 1, f.store.Len())
	assert.Empty(t, f.wallet.sent)

	assert.Equal(t, relayer.TypeSigned, got.Type)
	assert.Equal(t, relayer.OpPermissionGrant, got.Operation)
	assert.Equal(t, f.wallet.Address(), got.ExpectedUserAddress)
	require.Len(t, got.Signature, eip712.SignatureLength)
	assert.Contains(t, []byte{27, 28}, got.Signature[64])

	assert.Equal(t, eip712.PrimaryTypePermission, got.TypedData.PrimaryType)
	assert.Equal(t, res.GrantURL, got.TypedData.Message["grant"])
	ok, err := eip712.Verify(got.TypedData, got.Signature, f.wallet.Address())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGrantDirectSendsMessageAndSignature(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, nil)

	gas := uint64(300_000)
	res, err := c.Grant(context.Background(), grantParams(), &wallet.TransactionOptions{
		MaxFeePerGas:         big.NewInt(30),
		MaxPriorityFeePerGas: big.NewInt(2),
		Gas:                  &gas,
	})
	require.NoError(t, err)
	assert.False(t, res.Handle.ViaRelayer)

	require.Len(t, f.wallet.sent, 1)
	call := f.wallet.sent[0]
	assert.Equal(t, chain.FnAddPermission, call.FunctionName)
	require.Len(t, call.Args, 2)

	msg, ok := call.Args[0].(eip712.PermissionMessage)
	require.True(t, ok)
	assert.Equal(t, res.GrantURL, msg.Grant)
	assert.Equal(t, []*big.Int{big.NewInt(1), big.NewInt(2)}, msg.FileIDs)

	sig, ok := call.Args[1].([]byte)
	require.True(t, ok)
	require.Len(t, sig, eip712.SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[64])

	assert.Equal(t, wallet.DynamicFee{MaxFeePerGas: big.NewInt(30), MaxPriorityFeePerGas: big.NewInt(2)}, call.Fee)
	assert.Equal(t, map[string]any{
		wallet.FieldMaxFeePerGas:         big.NewInt(30),
		wallet.FieldMaxPriorityFeePerGas: big.NewInt(2),
		wallet.FieldGas:                  gas,
	}, call.GasFields())

	_, err = call.Data()
	assert.NoError(t, err)
}

func TestGrantWithoutOptionsLeavesGasUnset(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, nil)

	_, err := c.Grant(context.Background(), grantParams(), nil)
	require.NoError(t, err)
	require.Len(t, f.wallet.sent, 1)
	assert.Empty(t, f.wallet.sent[0].GasFields())
}

func TestGrantRequiresStorageBeforeIO(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, func(cfg *Config) {
		cfg.GrantStorage = nil
		cfg.Fetcher = nil
	})

	_, err := c.Grant(context.Background(), grantParams(), nil)
	assert.ErrorIs(t, err, perrors.ErrInvalidConfiguration)
	assert.Zero(t, f.wallet.addrCalls)
	assert.Empty(t, f.chain.calls)
}

func TestGrantWithExplicitURLSkipsStorage(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, func(cfg *Config) {
		cfg.GrantStorage = nil
		cfg.Fetcher = nil
	})

	params := grantParams()
	params.GrantURL = "https://grants.example/g1.json"
	res, err := c.Grant(context.Background(), params, nil)
	require.NoError(t, err)
	assert.Equal(t, params.GrantURL, res.GrantURL)
	assert.Zero(t, f.store.Len())
}

func TestGrantReusesEquivalentPermission(t *testing.T) {
	f := newFixture(t)
	params := grantParams()

	body, err := grantfile.New(params).Marshal()
	require.NoError(t, err)
	url, err := f.store.Upload(context.Background(), "existing.json", body)
	require.NoError(t, err)

	f.chain.perms = []permissionRecord{{
		Id:       big.NewInt(42),
		Grantor:  f.wallet.Address(),
		Nonce:    big.NewInt(3),
		Grant:    url,
		IsActive: true,
		FileIds:  []*big.Int{big.NewInt(2), big.NewInt(1)},
	}}
	c := f.client(t, nil)

	res, err := c.Grant(context.Background(), params, nil)
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Nil(t, res.Handle)
	assert.Equal(t, url, res.GrantURL)
	assert.Equal(t, big.NewInt(42), res.Existing.ID)
	assert.Zero(t, f.wallet.signs)
	assert.Empty(t, f.wallet.sent)
	assert.Equal(t, 1, f.store.Len())
}

func TestGrantCreatesNewWhenExistingGrantUnreadable(t *testing.T) {
	f := newFixture(t)
	f.chain.perms = []permissionRecord{{
		Id:       big.NewInt(1),
		Grantor:  f.wallet.Address(),
		Nonce:    big.NewInt(0),
		Grant:    "mem://missing",
		IsActive: true,
		FileIds:  []*big.Int{big.NewInt(1), big.NewInt(2)},
	}}
	c := f.client(t, nil)

	res, err := c.Grant(context.Background(), grantParams(), nil)
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Len(t, f.wallet.sent, 1)
}

func TestGrantCreatesNewWhenLookupFails(t *testing.T) {
	f := newFixture(t)
	// permission 5 is listed but cannot be read
	f.chain.perms = []permissionRecord{{Id: big.NewInt(5), Grantor: f.wallet.Address(), Nonce: big.NewInt(0), FileIds: []*big.Int{}}}
	c := f.client(t, func(cfg *Config) {
		cfg.Chain = &brokenPermissionsChain{fakeChain: f.chain}
	})

	res, err := c.Grant(context.Background(), grantParams(), nil)
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Len(t, f.wallet.sent, 1)
}

// brokenPermissionsChain fails every permissions(id) read.
type brokenPermissionsChain struct {
	*fakeChain
}

func (b *brokenPermissionsChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	contractABI, _ := chain.ABI(chain.DataPermissions)
	if method, err := contractABI.MethodById(msg.Data[:4]); err == nil && method.Name == chain.FnPermissions {
		return nil, errors.New("execution reverted")
	}
	return b.fakeChain.CallContract(ctx, msg, blockNumber)
}

func TestGrantUserRejected(t *testing.T) {
	f := newFixture(t)
	f.wallet.signErr = errors.New("MetaMask: User rejected the request")
	c := f.client(t, nil)

	_, err := c.Grant(context.Background(), grantParams(), nil)
	assert.ErrorIs(t, err, perrors.ErrUserRejected)
	assert.Empty(t, f.wallet.sent)
}

func TestGrantSigningFailure(t *testing.T) {
	f := newFixture(t)
	f.wallet.signErr = errors.New("hardware wallet disconnected")
	c := f.client(t, nil)

	_, err := c.Grant(context.Background(), grantParams(), nil)
	assert.ErrorIs(t, err, perrors.ErrSignature)
}

func TestNonceReadFailure(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, func(cfg *Config) { cfg.Fetcher = nil })
	f.chain.callErr = errors.New("rpc down")

	_, err := c.Revoke(context.Background(), big.NewInt(1), nil)
	assert.ErrorIs(t, err, perrors.ErrNonce)
	assert.Zero(t, f.wallet.signs)
}

func TestSendFailureIsBlockchainError(t *testing.T) {
	f := newFixture(t)
	f.wallet.sendErr = errors.New("insufficient funds for gas")
	c := f.client(t, nil)

	_, err := c.Revoke(context.Background(), big.NewInt(1), nil)
	assert.ErrorIs(t, err, perrors.ErrBlockchain)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestRelayerResponses(t *testing.T) {
	typed := perrors.Network("relayer offline", nil)

	tests := []struct {
		name    string
		submit  relayer.Func
		want    error
		message string
	}{
		{
			name: "error response",
			submit: func(ctx context.Context, req relayer.Request) (*relayer.Response, error) {
				return &relayer.Response{Type: relayer.TypeError, Error: "nonce too low"}, nil
			},
			want:    perrors.ErrRelayer,
			message: "nonce too low",
		},
		{
			name: "unknown type",
			submit: func(ctx context.Context, req relayer.Request) (*relayer.Response, error) {
				return &relayer.Response{Type: "queued", Hash: testTxHash}, nil
			},
			want:    perrors.ErrRelayer,
			message: msgInvalidRelayerResponse,
		},
		{
			name: "missing hash",
			submit: func(ctx context.Context, req relayer.Request) (*relayer.Response, error) {
				return &relayer.Response{Type: relayer.TypeSigned}, nil
			},
			want:    perrors.ErrRelayer,
			message: msgInvalidRelayerResponse,
		},
		{
			name: "nil response",
			submit: func(ctx context.Context, req relayer.Request) (*relayer.Response, error) {
				return nil, nil
			},
			want:    perrors.ErrRelayer,
			message: msgInvalidRelayerResponse,
		},
		{
			name: "plain error",
			submit: func(ctx context.Context, req relayer.Request) (*relayer.Response, error) {
				return nil, errors.New("rate limited")
			},
			want:    perrors.ErrRelayer,
			message: "rate limited",
		},
		{
			name: "transport",
			submit: func(ctx context.Context, req relayer.Request) (*relayer.Response, error) {
				return nil, fmt.Errorf("%w: connection refused", relayer.ErrTransport)
			},
			want: perrors.ErrNetwork,
		},
		{
			name: "malformed envelope",
			submit: func(ctx context.Context, req relayer.Request) (*relayer.Response, error) {
				return nil, fmt.Errorf("%w: unexpected character", relayer.ErrInvalidResponse)
			},
			want:    perrors.ErrRelayer,
			message: msgInvalidRelayerResponse,
		},
		{
			name: "typed error passes through",
			submit: func(ctx context.Context, req relayer.Request) (*relayer.Response, error) {
				return nil, typed
			},
			want:    perrors.ErrNetwork,
			message: "relayer offline",
		},
		{
			name: "panic",
			submit: func(ctx context.Context, req relayer.Request) (*relayer.Response, error) {
				panic(42)
			},
			want:    perrors.ErrRelayer,
			message: perrors.UnknownErrorMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.client(t, func(cfg *Config) { cfg.Relayer = tt.submit })

			_, err := c.TrustServer(context.Background(), TrustServerParams{ServerID: testServer, ServerURL: "https://server.example"}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			if tt.message != "" {
				assert.Equal(t, tt.message, perrors.MessageOf(err))
			}
			assert.Empty(t, f.wallet.sent, "no fallback to direct submission")
		})
	}
}

func TestHTTPRelayerMalformedBodyIsRelayerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := newFixture(t)
	c := f.client(t, func(cfg *Config) { cfg.Relayer = relayer.NewHTTPClient(srv.URL, srv.Client(), nil) })

	_, err := c.UntrustServer(context.Background(), testServer, nil)
	assert.ErrorIs(t, err, perrors.ErrRelayer)
	assert.NotErrorIs(t, err, perrors.ErrNetwork)
	assert.Equal(t, msgInvalidRelayerResponse, perrors.MessageOf(err))
}

func TestTypedPassthroughIsSameError(t *testing.T) {
	f := newFixture(t)
	typed := perrors.Relayer("quota exceeded", nil)
	c := f.client(t, func(cfg *Config) {
		cfg.Relayer = relayer.Func(func(ctx context.Context, req relayer.Request) (*relayer.Response, error) {
			return nil, typed
		})
	})

	_, err := c.UntrustServer(context.Background(), testServer, nil)
	assert.Same(t, typed, err)
}

func TestSignedOperationsUseTheirContracts(t *testing.T) {
	f := newFixture(t)
	f.chain.nonces[chain.DataPortabilityServers] = big.NewInt(11)
	f.chain.nonces[chain.DataPortabilityGrantees] = big.NewInt(5)
	c := f.client(t, nil)
	ctx := context.Background()

	trust, err := c.TrustServer(ctx, TrustServerParams{ServerID: testServer, ServerURL: "https://server.example"}, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(11), trust.Nonce)
	assert.Equal(t, chain.DataPortabilityServers, trust.Contract)

	untrust, err := c.UntrustServer(ctx, testServer, nil)
	require.NoError(t, err)
	assert.Equal(t, OperationUntrustServer, untrust.Operation)

	reg, err := c.RegisterGrantee(ctx, RegisterGranteeParams{GranteeAddress: testGrantee, PublicKey: "0x04ab"}, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), reg.Nonce)

	require.Len(t, f.wallet.sent, 3)
	assert.Equal(t, chain.FnTrustServerWithSignature, f.wallet.sent[0].FunctionName)
	assert.Equal(t, chain.FnUntrustServerWithSignature, f.wallet.sent[1].FunctionName)
	assert.Equal(t, chain.FnRegisterGranteeWithSignature, f.wallet.sent[2].FunctionName)

	regMsg := f.wallet.sent[2].Args[0].(eip712.RegisterGranteeMessage)
	assert.Equal(t, f.wallet.Address(), regMsg.Owner, "owner defaults to the wallet account")

	servers, _ := c.contracts.Address(testChainID, chain.DataPortabilityServers)
	assert.Equal(t, servers, f.wallet.sent[0].To)
}

func TestResolveContractNonceReadsEachContract(t *testing.T) {
	f := newFixture(t)
	f.chain.nonces[chain.DataPermissions] = big.NewInt(2)
	f.chain.nonces[chain.DataPortabilityServers] = big.NewInt(11)
	f.chain.nonces[chain.DataPortabilityGrantees] = big.NewInt(5)
	c := f.client(t, nil)
	user := f.wallet.Address()

	tests := []struct {
		contract string
		want     int64
	}{
		{chain.DataPermissions, 2},
		{chain.DataPortabilityServers, 11},
		{chain.DataPortabilityGrantees, 5},
	}
	for _, tt := range tests {
		t.Run(tt.contract, func(t *testing.T) {
			n, err := c.Resolver().ResolveContractNonce(context.Background(), tt.contract, user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Int64())
		})
	}

	n, err := c.Resolver().ResolveNonce(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n.Int64())
}

func TestRevokeRequiresID(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, nil)

	_, err := c.Revoke(context.Background(), nil, nil)
	assert.ErrorIs(t, err, perrors.ErrPermission)
	_, err = c.RevokeDirect(context.Background(), nil, nil)
	assert.ErrorIs(t, err, perrors.ErrPermission)
}

func TestDirectOperationsCarryRawArguments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.client(t, func(cfg *Config) {
		cfg.Relayer = relayer.Func(func(ctx context.Context, req relayer.Request) (*relayer.Response, error) {
			t.Fatal("unsigned operations never use the relayer")
			return nil, nil
		})
	})

	price := big.NewInt(5)
	_, err := c.RevokeDirect(ctx, big.NewInt(9), &wallet.TransactionOptions{GasPrice: price})
	require.NoError(t, err)
	_, err = c.TrustServerDirect(ctx, TrustServerParams{ServerID: testServer, ServerURL: "https://s"}, nil)
	require.NoError(t, err)
	_, err = c.UntrustServerDirect(ctx, testServer, nil)
	require.NoError(t, err)

	require.Len(t, f.wallet.sent, 3)
	assert.Equal(t, chain.FnRevokePermission, f.wallet.sent[0].FunctionName)
	assert.Equal(t, []any{big.NewInt(9)}, f.wallet.sent[0].Args)
	assert.Equal(t, wallet.LegacyFee{GasPrice: price}, f.wallet.sent[0].Fee)

	assert.Equal(t, []any{testServer, "https://s"}, f.wallet.sent[1].Args)
	assert.Equal(t, []any{testServer}, f.wallet.sent[2].Args)
	assert.Zero(t, f.wallet.signs)
	assert.Empty(t, f.chain.calls, "no nonce reads")
}

func TestServerValidation(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, nil)

	_, err := c.TrustServer(context.Background(), TrustServerParams{}, nil)
	assert.ErrorIs(t, err, perrors.ErrInvalidConfiguration)
	_, err = c.RegisterGrantee(context.Background(), RegisterGranteeParams{GranteeAddress: testGrantee}, nil)
	assert.ErrorIs(t, err, perrors.ErrInvalidConfiguration)
}

func TestNonceGuardRejectsReservedNonce(t *testing.T) {
	f := newFixture(t)
	guard := nonce.NewMemoryStore(time.Minute)
	c := f.client(t, func(cfg *Config) { cfg.NonceGuard = guard })

	addr, err := c.contracts.Address(testChainID, chain.DataPermissions)
	require.NoError(t, err)
	key := nonce.Key{ChainID: testChainID, Contract: addr, User: f.wallet.Address(), Nonce: big.NewInt(0)}
	require.NoError(t, guard.Reserve(context.Background(), key))

	_, err = c.Revoke(context.Background(), big.NewInt(1), nil)
	assert.ErrorIs(t, err, perrors.ErrNonce)
	assert.Zero(t, f.wallet.signs)
}

func TestNonceGuardIgnoresOtherChains(t *testing.T) {
	f := newFixture(t)
	guard := nonce.NewMemoryStore(time.Minute)
	c := f.client(t, func(cfg *Config) { cfg.NonceGuard = guard })

	addr, err := c.contracts.Address(testChainID, chain.DataPermissions)
	require.NoError(t, err)
	elsewhere := nonce.Key{ChainID: big.NewInt(1), Contract: addr, User: f.wallet.Address(), Nonce: big.NewInt(0)}
	require.NoError(t, guard.Reserve(context.Background(), elsewhere))

	_, err = c.Revoke(context.Background(), big.NewInt(1), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.wallet.signs)
}

func TestNonceGuardSettlesReservation(t *testing.T) {
	f := newFixture(t)
	guard := nonce.NewMemoryStore(time.Minute)
	c := f.client(t, func(cfg *Config) { cfg.NonceGuard = guard })
	ctx := context.Background()

	// failed submission releases the nonce
	f.wallet.sendErr = errors.New("boom")
	_, err := c.Revoke(ctx, big.NewInt(1), nil)
	require.Error(t, err)

	f.wallet.sendErr = nil
	_, err = c.Revoke(ctx, big.NewInt(1), nil)
	require.NoError(t, err)

	// the registry has not advanced, so the same nonce is now marked used
	_, err = c.Revoke(ctx, big.NewInt(1), nil)
	assert.ErrorIs(t, err, perrors.ErrNonce)
}

func TestGetUserPermissions(t *testing.T) {
	f := newFixture(t)
	params := grantParams()
	body, err := grantfile.New(params).Marshal()
	require.NoError(t, err)
	url, err := f.store.Upload(context.Background(), "g.json", body)
	require.NoError(t, err)

	f.chain.perms = []permissionRecord{
		{Id: big.NewInt(1), Grantor: f.wallet.Address(), Nonce: big.NewInt(0), Grant: url, IsActive: true, FileIds: []*big.Int{big.NewInt(1), big.NewInt(2)}},
		{Id: big.NewInt(2), Grantor: f.wallet.Address(), Nonce: big.NewInt(1), Grant: "mem://gone", IsActive: false, FileIds: []*big.Int{}},
	}
	c := f.client(t, nil)

	perms, err := c.GetUserPermissions(context.Background(), f.wallet.Address())
	require.NoError(t, err)
	require.Len(t, perms, 2)

	assert.Equal(t, big.NewInt(1), perms[0].ID)
	assert.Equal(t, testGrantee.Hex(), perms[0].Grantee)
	assert.Equal(t, "llm_inference", perms[0].Operation)
	assert.Equal(t, []uint64{1, 2}, perms[0].Files)
	assert.True(t, perms[0].Active)

	assert.False(t, perms[1].Active)
	assert.Empty(t, perms[1].Grantee, "unreadable grant file leaves terms empty")
}

func TestQueryFailuresArePermissionErrors(t *testing.T) {
	f := newFixture(t)
	f.chain.callErr = errors.New("execution reverted")
	c := f.client(t, nil)

	_, err := c.GetUserPermissions(context.Background(), f.wallet.Address())
	assert.ErrorIs(t, err, perrors.ErrPermission)
	_, err = c.GetTrustedServers(context.Background(), f.wallet.Address())
	assert.ErrorIs(t, err, perrors.ErrPermission)
}

func TestGetTrustedServers(t *testing.T) {
	f := newFixture(t)
	f.chain.servers = []serverRecord{{Id: testServer, Url: "https://server.example", PublicKey: "0x04ff"}}
	c := f.client(t, nil)

	servers, err := c.GetTrustedServers(context.Background(), f.wallet.Address())
	require.NoError(t, err)
	assert.Equal(t, []TrustedServer{{ServerID: testServer, ServerURL: "https://server.example", PublicKey: "0x04ff"}}, servers)
}

func permissionAddedReceipt(t *testing.T, hash common.Hash, id *big.Int, user common.Address, status uint64) *types.Receipt {
	t.Helper()
	contractABI, err := chain.ABI(chain.DataPermissions)
	require.NoError(t, err)
	ev := contractABI.Events[chain.EventPermissionAdded]

	data, err := ev.Inputs.NonIndexed().Pack("mem://grant", []*big.Int{big.NewInt(1)})
	require.NoError(t, err)
	return &types.Receipt{
		TxHash:      hash,
		Status:      status,
		BlockNumber: big.NewInt(100),
		GasUsed:     21_000,
		Logs: []*types.Log{{
			Topics: []common.Hash{ev.ID, common.BigToHash(id), common.BytesToHash(user.Bytes())},
			Data:   data,
		}},
	}
}

func TestWaitForResult(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, nil)

	handle, err := c.Revoke(context.Background(), big.NewInt(1), nil)
	require.NoError(t, err)
	f.chain.receipts[handle.Hash] = permissionAddedReceipt(t, handle.Hash, big.NewInt(77), f.wallet.Address(), types.ReceiptStatusSuccessful)

	result, err := c.WaitForResult(context.Background(), handle, WaitOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(77), result.PermissionID)
	assert.Equal(t, uint64(100), result.BlockNumber)
	assert.True(t, result.HasEvent(chain.EventPermissionAdded))
}

func TestWaitForResultReverted(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, nil)
	handle := &TransactionHandle{Hash: testTxHash, Contract: chain.DataPermissions}
	f.chain.receipts[testTxHash] = permissionAddedReceipt(t, testTxHash, big.NewInt(1), f.wallet.Address(), types.ReceiptStatusFailed)

	result, err := c.WaitForResult(context.Background(), handle, WaitOptions{Timeout: time.Second})
	assert.ErrorIs(t, err, perrors.ErrBlockchain)
	require.NotNil(t, result)
	assert.Nil(t, result.PermissionID)
}

func TestWaitForResultTimeout(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, nil)
	handle := &TransactionHandle{Hash: common.HexToHash("0xdead"), Contract: chain.DataPermissions}

	_, err := c.WaitForResult(context.Background(), handle, WaitOptions{Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, perrors.ErrBlockchain)
	assert.ErrorIs(t, err, chain.ErrReceiptTimeout)
}

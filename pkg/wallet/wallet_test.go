package wallet

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahwlsqja/permission-client/pkg/chain"
	"github.com/ahwlsqja/permission-client/pkg/eip712"
)

type fakeBackend struct {
	pendingNonce uint64
	gasPrice     *big.Int
	tipCap       *big.Int
	baseFee      *big.Int
	estimate     uint64

	nonceCalls    int
	estimateCalls int
	sent          []*types.Transaction
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.nonceCalls++
	return b.pendingNonce, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return b.gasPrice, nil
}

func (b *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return b.tipCap, nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.estimateCalls++
	return b.estimate, nil
}

func (b *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: b.baseFee}, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.sent = append(b.sent, tx)
	return nil
}

func newTestWallet(t *testing.T, backend Backend) *KeyWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewKeyWallet(key, backend, big.NewInt(31337), nil)
}

func revokeCall(t *testing.T) ContractCall {
	t.Helper()
	parsed, err := chain.ABI(chain.DataPermissions)
	require.NoError(t, err)
	return ContractCall{
		To:           common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		ABI:          parsed,
		FunctionName: chain.FnRevokePermission,
		Args:         []any{big.NewInt(9)},
	}
}

func u64(v uint64) *uint64 { return &v }

func TestFeeModelPrecedence(t *testing.T) {
	tests := []struct {
		name string
		opts *TransactionOptions
		want map[string]any
	}{
		{
			name: "nothing supplied",
			opts: &TransactionOptions{},
			want: map[string]any{},
		},
		{
			name: "nil options",
			opts: nil,
			want: map[string]any{},
		},
		{
			name: "legacy only",
			opts: &TransactionOptions{GasPrice: big.NewInt(10)},
			want: map[string]any{FieldGasPrice: big.NewInt(10)},
		},
		{
			name: "max fee only",
			opts: &TransactionOptions{MaxFeePerGas: big.NewInt(30)},
			want: map[string]any{FieldMaxFeePerGas: big.NewInt(30)},
		},
		{
			name: "both fee models",
			opts: &TransactionOptions{
				GasPrice:             big.NewInt(10),
				MaxFeePerGas:         big.NewInt(30),
				MaxPriorityFeePerGas: big.NewInt(2),
			},
			want: map[string]any{
				FieldMaxFeePerGas:         big.NewInt(30),
				FieldMaxPriorityFeePerGas: big.NewInt(2),
			},
		},
		{
			name: "gas and nonce without fees",
			opts: &TransactionOptions{Gas: u64(100000), Nonce: u64(4)},
			want: map[string]any{FieldGas: uint64(100000), FieldNonce: uint64(4)},
		},
		{
			name: "gas with legacy fee",
			opts: &TransactionOptions{GasPrice: big.NewInt(7), Gas: u64(21000)},
			want: map[string]any{FieldGasPrice: big.NewInt(7), FieldGas: uint64(21000)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var call ContractCall
			tt.opts.Apply(&call)
			assert.Equal(t, tt.want, call.GasFields())
		})
	}
}

func TestFeeModelCopiesValues(t *testing.T) {
	price := big.NewInt(10)
	opts := &TransactionOptions{GasPrice: price}
	fee := opts.FeeModel().(LegacyFee)
	price.SetInt64(99)
	assert.Equal(t, int64(10), fee.GasPrice.Int64())
}

func TestSignTypedDataRecoversWallet(t *testing.T) {
	w := newTestWallet(t, nil)

	td, err := eip712.ComposeRevoke(eip712.Domain{
		Name:              eip712.DataPermissionsDomain,
		ChainID:           big.NewInt(31337),
		VerifyingContract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	}, eip712.RevokePermissionMessage{Nonce: big.NewInt(1), PermissionID: big.NewInt(2)})
	require.NoError(t, err)

	sig, err := w.SignTypedData(context.Background(), td)
	require.NoError(t, err)
	assert.Len(t, sig, 65)
	assert.Less(t, sig[64], byte(27))

	signer, err := eip712.RecoverSigner(td, sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), signer)
}

func TestSignMessageIsDeterministic(t *testing.T) {
	w := newTestWallet(t, nil)
	msg := []byte("hello")

	first, err := w.SignMessage(context.Background(), msg)
	require.NoError(t, err)
	second, err := w.SignMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Contains(t, []byte{27, 28}, first[64])

	sig := append([]byte(nil), first...)
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), crypto.PubkeyToAddress(*pub))
}

func TestSendTransactionLegacy(t *testing.T) {
	backend := &fakeBackend{pendingNonce: 3, gasPrice: big.NewInt(5), estimate: 60000}
	w := newTestWallet(t, backend)

	call := revokeCall(t)
	call.Fee = LegacyFee{GasPrice: big.NewInt(42)}

	hash, err := w.SendTransaction(context.Background(), call)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.Equal(t, int64(42), tx.GasPrice().Int64())
	assert.Equal(t, uint64(3), tx.Nonce())
	assert.Equal(t, uint64(60000), tx.Gas())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), tx)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), from)
}

func TestSendTransactionOverridesSkipBackend(t *testing.T) {
	backend := &fakeBackend{tipCap: big.NewInt(1), baseFee: big.NewInt(10)}
	w := newTestWallet(t, backend)

	call := revokeCall(t)
	call.Gas = u64(90000)
	call.Nonce = u64(11)
	call.Fee = DynamicFee{MaxFeePerGas: big.NewInt(50), MaxPriorityFeePerGas: big.NewInt(3)}

	_, err := w.SendTransaction(context.Background(), call)
	require.NoError(t, err)
	assert.Zero(t, backend.nonceCalls)
	assert.Zero(t, backend.estimateCalls)

	tx := backend.sent[0]
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(11), tx.Nonce())
	assert.Equal(t, uint64(90000), tx.Gas())
	assert.Equal(t, int64(50), tx.GasFeeCap().Int64())
	assert.Equal(t, int64(3), tx.GasTipCap().Int64())
}

func TestSendTransactionDefaultsToDynamicFee(t *testing.T) {
	backend := &fakeBackend{tipCap: big.NewInt(2), baseFee: big.NewInt(10), estimate: 50000}
	w := newTestWallet(t, backend)

	_, err := w.SendTransaction(context.Background(), revokeCall(t))
	require.NoError(t, err)

	tx := backend.sent[0]
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, int64(22), tx.GasFeeCap().Int64())
	assert.Equal(t, int64(2), tx.GasTipCap().Int64())
}

func TestSendTransactionFallsBackToLegacyWithoutBaseFee(t *testing.T) {
	backend := &fakeBackend{gasPrice: big.NewInt(8), estimate: 50000}
	w := newTestWallet(t, backend)

	_, err := w.SendTransaction(context.Background(), revokeCall(t))
	require.NoError(t, err)
	assert.Equal(t, uint8(types.LegacyTxType), backend.sent[0].Type())
	assert.Equal(t, int64(8), backend.sent[0].GasPrice().Int64())
}

func TestContractCallDataRequiresABI(t *testing.T) {
	_, err := ContractCall{FunctionName: "x"}.Data()
	assert.ErrorIs(t, err, ErrMissingABI)
}

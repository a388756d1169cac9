package wallet

import "math/big"

// Gas-related keys reported by ContractCall.GasFields
const (
	FieldGasPrice             = "gasPrice"
	FieldMaxFeePerGas         = "maxFeePerGas"
	FieldMaxPriorityFeePerGas = "maxPriorityFeePerGas"
	FieldGas                  = "gas"
	FieldNonce                = "nonce"
)

// FeeModel selects how a transaction prices its gas. A nil FeeModel leaves
// pricing to the wallet. Implementations are LegacyFee and DynamicFee.
type FeeModel interface {
	feeModel()
}

// LegacyFee prices a transaction with a single gas price.
type LegacyFee struct {
	GasPrice *big.Int
}

// DynamicFee prices an EIP-1559 transaction. Either cap may be nil, in which
// case the wallet fills it in.
type DynamicFee struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

func (LegacyFee) feeModel()  {}
func (DynamicFee) feeModel() {}

// TransactionOptions are the caller-facing gas overrides of a direct
// submission. All fields are optional.
type TransactionOptions struct {
	GasPrice             *big.Int `json:"gasPrice,omitempty"`
	MaxFeePerGas         *big.Int `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *big.Int `json:"maxPriorityFeePerGas,omitempty"`
	Gas                  *uint64  `json:"gas,omitempty"`
	Nonce                *uint64  `json:"nonce,omitempty"`
}

// FeeModel returns the fee model the options describe. EIP-1559 fields take
// precedence, and GasPrice is dropped whenever either of them is set.
func (o *TransactionOptions) FeeModel() FeeModel {
	if o == nil {
		return nil
	}
	if o.MaxFeePerGas != nil || o.MaxPriorityFeePerGas != nil {
		return DynamicFee{
			MaxFeePerGas:         copyBig(o.MaxFeePerGas),
			MaxPriorityFeePerGas: copyBig(o.MaxPriorityFeePerGas),
		}
	}
	if o.GasPrice != nil {
		return LegacyFee{GasPrice: copyBig(o.GasPrice)}
	}
	return nil
}

// Apply copies the options onto call. Gas and nonce are applied
// independently of the fee model.
func (o *TransactionOptions) Apply(call *ContractCall) {
	if o == nil {
		return
	}
	call.Fee = o.FeeModel()
	if o.Gas != nil {
		gas := *o.Gas
		call.Gas = &gas
	}
	if o.Nonce != nil {
		nonce := *o.Nonce
		call.Nonce = &nonce
	}
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

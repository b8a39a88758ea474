// Package types holds the small, dependency-light value types shared across
// the contract-client, chain-client, and tx-listener packages.
package types

import (
	"math/big"
	"time"
)

// SendMode controls how a write transaction is gas-priced and confirmed.
type SendMode int

const (
	// Standard lets the client estimate gas and use the network's suggested
	// gas price. Used for approvals and anything not on the hot mint path.
	Standard SendMode = iota
	// Priority is accepted by ContractClient.Send but handled like Standard:
	// no oracle-derived gas price or gas-limit multiplier is applied.
	Priority
)

// TxKind tags a TxRecord by the on-chain operation it represents.
type TxKind string

const (
	KindApprove  TxKind = "approve"
	KindMint     TxKind = "mint"
	KindDecrease TxKind = "decrease"
	KindCollect  TxKind = "collect"
	KindBurn     TxKind = "burn"
	KindMulticall TxKind = "multicall"
	KindSwap     TxKind = "swap"
)

// TxReceipt is the chain-agnostic receipt view the rest of the codebase
// works with; contractclient is responsible for translating a go-ethereum
// *gethtypes.Receipt into this shape.
type TxReceipt struct {
	TxHash            string
	BlockNumber       string
	GasUsed           string
	EffectiveGasPrice string
	Status            string // "0x1" success, "0x0" reverted
	Logs              []Log
}

// Log is a decoded-address, raw-topics view of a single receipt log entry.
type Log struct {
	Address string
	Topics  []string
	Data    []byte
}

// Succeeded reports whether the receipt's status indicates success.
func (r *TxReceipt) Succeeded() bool {
	return r != nil && r.Status == "0x1"
}

// GasCost returns GasUsed * EffectiveGasPrice in wei, or nil if either is
// unparseable.
func (r *TxReceipt) GasCost() *big.Int {
	if r == nil {
		return nil
	}
	// Base 0 reads "0x"-prefixed strings as hex and plain digits as decimal.
	gasUsed, ok := new(big.Int).SetString(r.GasUsed, 0)
	if !ok {
		return nil
	}
	price, ok := new(big.Int).SetString(r.EffectiveGasPrice, 0)
	if !ok {
		return nil
	}
	return new(big.Int).Mul(gasUsed, price)
}

// TxRecord is the immutable, once-written record of a single on-chain
// operation.
type TxRecord struct {
	Kind              TxKind
	Params            map[string]any
	Hash              string
	Block             string
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	ReturnValues      map[string]any
	Timestamp         time.Time
}

// SwapRecord is the append-only record of a single SwapRouter execution.
type SwapRecord struct {
	FromToken  string
	ToToken    string
	AmountIn   *big.Int
	AmountOut  *big.Int
	TxHash     string
	SlippageBp int
	Timestamp  time.Time
}

package util

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/blackholelabs/lpstrategy/pkg/types"
)

// ExtractGasCost computes GasUsed * EffectiveGasPrice from a receipt,
// accepting either hex ("0x...") or decimal string encodings.
func ExtractGasCost(receipt *types.TxReceipt) (*big.Int, error) {
	if receipt == nil {
		return nil, errors.New("extractGasCost: nil receipt")
	}
	cost := receipt.GasCost()
	if cost == nil {
		return nil, fmt.Errorf("extractGasCost: could not parse gasUsed=%q effectiveGasPrice=%q", receipt.GasUsed, receipt.EffectiveGasPrice)
	}
	return cost, nil
}

// ValidateStakingRequest checks that a requested position size is
// well-formed before any RPC call is made.
func ValidateStakingRequest(maxAmount0, maxAmount1 *big.Int, rangeWidth, slippagePct int) error {
	if maxAmount0 == nil || maxAmount0.Sign() <= 0 {
		return errors.New("validateStakingRequest: maxAmount0 must be positive")
	}
	if maxAmount1 == nil || maxAmount1.Sign() <= 0 {
		return errors.New("validateStakingRequest: maxAmount1 must be positive")
	}
	if rangeWidth <= 0 {
		return errors.New("validateStakingRequest: rangeWidth must be positive")
	}
	if slippagePct <= 0 || slippagePct > 100 {
		return errors.New("validateStakingRequest: slippagePct must be in (0,100]")
	}
	return nil
}

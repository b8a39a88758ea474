package tickmath

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqrtRatioAtTick(t *testing.T) {
	sqrtPrice, err := SqrtRatioAtTick(-252000)
	require.NoError(t, err)

	expected, ok := new(big.Int).SetString("304011615425126403287043", 10)
	require.True(t, ok)
	assert.Equal(t, expected, sqrtPrice)
}

func TestSqrtRatioAtTick_OutOfDomain(t *testing.T) {
	_, err := SqrtRatioAtTick(MaxTick + 1)
	assert.Error(t, err)
	_, err = SqrtRatioAtTick(MinTick - 1)
	assert.Error(t, err)
}

func TestSqrtRatioAtTick_ZeroIsQ96(t *testing.T) {
	sqrtPrice, err := SqrtRatioAtTick(0)
	require.NoError(t, err)
	assert.Equal(t, Q96, sqrtPrice)
}

func TestGetAmountsForLiquidity_InsideBand(t *testing.T) {
	sqrtA, err := SqrtRatioAtTick(-1000)
	require.NoError(t, err)
	sqrtB, err := SqrtRatioAtTick(1000)
	require.NoError(t, err)
	sqrtX, err := SqrtRatioAtTick(0)
	require.NoError(t, err)

	liquidity := big.NewInt(1_000_000_000_000)
	amount0, amount1 := GetAmountsForLiquidity(sqrtX, sqrtA, sqrtB, liquidity)

	assert.True(t, amount0.Sign() > 0)
	assert.True(t, amount1.Sign() > 0)
}

func TestGetAmountsForLiquidity_BelowBand(t *testing.T) {
	sqrtA, _ := SqrtRatioAtTick(100)
	sqrtB, _ := SqrtRatioAtTick(200)
	sqrtX, _ := SqrtRatioAtTick(0)

	amount0, amount1 := GetAmountsForLiquidity(sqrtX, sqrtA, sqrtB, big.NewInt(500))
	assert.True(t, amount0.Sign() > 0)
	assert.Equal(t, 0, amount1.Sign())
}

func TestGetAmountsForLiquidity_AboveBand(t *testing.T) {
	sqrtA, _ := SqrtRatioAtTick(-200)
	sqrtB, _ := SqrtRatioAtTick(-100)
	sqrtX, _ := SqrtRatioAtTick(0)

	amount0, amount1 := GetAmountsForLiquidity(sqrtX, sqrtA, sqrtB, big.NewInt(500))
	assert.Equal(t, 0, amount0.Sign())
	assert.True(t, amount1.Sign() > 0)
}

func TestLiquidityRoundTrip(t *testing.T) {
	sqrtA, _ := SqrtRatioAtTick(-1000)
	sqrtB, _ := SqrtRatioAtTick(1000)
	sqrtX, _ := SqrtRatioAtTick(0)

	amount0 := big.NewInt(1_000_000_000)
	l := GetLiquidityForAmount0(sqrtX, sqrtB, amount0)
	gotAmount0, _ := GetAmountsForLiquidity(sqrtX, sqrtX, sqrtB, l)

	diff := new(big.Int).Sub(gotAmount0, amount0)
	assert.LessOrEqual(t, diff.Abs(diff).Int64(), int64(1))
}

func TestAlignToSpacing(t *testing.T) {
	assert.Equal(t, -500, AlignToSpacing(-450, 100, Floor))
	assert.Equal(t, -400, AlignToSpacing(-450, 100, Ceil))
	assert.Equal(t, 400, AlignToSpacing(450, 100, Floor))
	assert.Equal(t, 500, AlignToSpacing(450, 100, Ceil))
	assert.Equal(t, 300, AlignToSpacing(300, 100, Floor))
}

func TestTickSpacingForFee(t *testing.T) {
	spacing, err := TickSpacingForFee(3000)
	require.NoError(t, err)
	assert.Equal(t, 60, spacing)

	_, err = TickSpacingForFee(42)
	assert.Error(t, err)
}

func TestValidateRange(t *testing.T) {
	assert.NoError(t, ValidateRange(-500, 500))
	assert.Error(t, ValidateRange(500, -500))
	assert.Error(t, ValidateRange(0, 0))
}

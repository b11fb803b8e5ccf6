// internal/amm/math.go
package amm

import (
	"errors"
	"math/big"
)

// Ошибки детерминированной арифметики. Переполнение всегда ошибка, никогда wrap.
var (
	ErrZeroReserves = errors.New("amm: pool reserves must be positive")
	ErrFeeTooHigh   = errors.New("amm: fee must be below 10000 bps")
	ErrAmountRange  = errors.New("amm: output exceeds uint64 range")
)

const bpsDenominator = 10_000

// CalculateOutput вычисляет выход свапа по формуле constant product:
// комиссия удерживается из входа до обмена, деление всегда округляется вниз.
//
//	out = reserveOut * amountInAfterFee / (reserveIn + amountInAfterFee)
//
// Промежуточные произведения считаются в math/big, поэтому 128-битное
// умножение не может молча переполниться. Результат строго меньше reserveOut:
// свап никогда не выкачивает пул досуха.
func CalculateOutput(reserveIn, reserveOut, amountIn uint64, feeBps uint16) (uint64, error) {
	if reserveIn == 0 || reserveOut == 0 {
		return 0, ErrZeroReserves
	}
	if feeBps >= bpsDenominator {
		return 0, ErrFeeTooHigh
	}
	if amountIn == 0 {
		return 0, nil
	}

	// amountInAfterFee = amountIn * (10000 - feeBps), в масштабе bps
	in := new(big.Int).SetUint64(amountIn)
	in.Mul(in, big.NewInt(int64(bpsDenominator-feeBps)))

	// числитель: reserveOut * amountInAfterFee
	num := new(big.Int).SetUint64(reserveOut)
	num.Mul(num, in)

	// знаменатель: reserveIn * 10000 + amountInAfterFee
	den := new(big.Int).SetUint64(reserveIn)
	den.Mul(den, big.NewInt(bpsDenominator))
	den.Add(den, in)

	out := num.Quo(num, den)
	if !out.IsUint64() {
		return 0, ErrAmountRange
	}
	// floor(num/den) < reserveOut, т.к. den > amountInAfterFee
	return out.Uint64(), nil
}

// FeeAmount возвращает часть входа, удержанную как комиссия пула (floor).
func FeeAmount(amountIn uint64, feeBps uint16) uint64 {
	fee := new(big.Int).SetUint64(amountIn)
	fee.Mul(fee, big.NewInt(int64(feeBps)))
	fee.Quo(fee, big.NewInt(bpsDenominator))
	return fee.Uint64()
}

// PriceImpactBps оценивает влияние сделки на цену в базисных пунктах:
// относительное отклонение цены исполнения от спотовой цены пула.
func PriceImpactBps(reserveIn, reserveOut, amountIn uint64, feeBps uint16) (uint16, error) {
	if amountIn == 0 {
		return 0, nil
	}
	out, err := CalculateOutput(reserveIn, reserveOut, amountIn, feeBps)
	if err != nil {
		return 0, err
	}
	if out == 0 {
		return bpsDenominator, nil
	}

	// spot = reserveOut/reserveIn; exec = out/amountIn
	// impact = (spot - exec) / spot = 1 - out*reserveIn/(amountIn*reserveOut)
	execNum := new(big.Int).SetUint64(out)
	execNum.Mul(execNum, new(big.Int).SetUint64(reserveIn))
	execNum.Mul(execNum, big.NewInt(bpsDenominator))

	spotNum := new(big.Int).SetUint64(amountIn)
	spotNum.Mul(spotNum, new(big.Int).SetUint64(reserveOut))

	ratio := execNum.Quo(execNum, spotNum)
	impact := big.NewInt(bpsDenominator)
	impact.Sub(impact, ratio)
	if impact.Sign() < 0 {
		return 0, nil
	}
	if impact.Cmp(big.NewInt(bpsDenominator)) > 0 {
		return bpsDenominator, nil
	}
	return uint16(impact.Uint64()), nil
}

// MinAmountOut вычисляет минимально допустимый выход с учетом допуска
// проскальзывания в базисных пунктах (floor, консервативно).
func MinAmountOut(expectedOut uint64, slippageBps uint16) uint64 {
	if slippageBps >= bpsDenominator {
		return 0
	}
	m := new(big.Int).SetUint64(expectedOut)
	m.Mul(m, big.NewInt(int64(bpsDenominator-slippageBps)))
	m.Quo(m, big.NewInt(bpsDenominator))
	return m.Uint64()
}

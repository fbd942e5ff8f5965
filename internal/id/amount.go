package id

import (
	"fmt"
	"math/big"
	"strings"

	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a human decimal amount ("0.1") into integer base
// units scaled by the token's decimals. The pipeline only ever sees the
// returned big.Int; decimal values exist at the handler boundary alone.
func ToBaseUnits(value string, decimals int) (*big.Int, error) {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return nil, clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "amount must be in decimal form like 1.23", err)
	}
	if d.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be positive")
	}
	if -d.Exponent() > int32(decimals) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount precision exceeds token decimals (%d)", decimals))
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount precision exceeds token decimals (%d)", decimals))
	}
	return scaled.BigInt(), nil
}

// FromBaseUnits renders integer base units as a trimmed decimal string.
func FromBaseUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseBaseUnits parses an already-scaled base-unit integer string.
func ParseBaseUnits(value string) (*big.Int, error) {
	clean := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(clean, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be a positive integer in base units")
	}
	return amount, nil
}

// NormalizeAmount accepts exactly one of a base-unit amount or a decimal
// amount and returns the base-unit value plus its decimal rendering.
func NormalizeAmount(baseUnits, dec string, decimals int) (*big.Int, string, error) {
	hasBase := strings.TrimSpace(baseUnits) != ""
	hasDec := strings.TrimSpace(dec) != ""
	if hasBase && hasDec {
		return nil, "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-base, not both")
	}
	if !hasBase && !hasDec {
		return nil, "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	if hasBase {
		amount, err := ParseBaseUnits(baseUnits)
		if err != nil {
			return nil, "", err
		}
		return amount, FromBaseUnits(amount, decimals), nil
	}
	amount, err := ToBaseUnits(dec, decimals)
	if err != nil {
		return nil, "", err
	}
	return amount, FromBaseUnits(amount, decimals), nil
}

package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseUnits converts a decimal string amount into an integer value in the
// asset's smallest unit, e.g. ("100.00", 6) -> 100000000. The conversion is
// exact: amounts with more fractional digits than the asset carries are
// rejected rather than rounded.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("parse units: empty amount")
	}
	neg := false
	if strings.HasPrefix(amount, "-") {
		neg = true
		amount = amount[1:]
	}

	whole, frac := amount, ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		// Trailing zeros beyond the asset scale are harmless.
		extra := frac[decimals:]
		if strings.Trim(extra, "0") != "" {
			return nil, fmt.Errorf("parse units: %q has more than %d fractional digits", amount, decimals)
		}
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("parse units: invalid amount %q", amount)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}

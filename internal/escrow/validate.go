package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/winstay/settlement/internal/config"
)

// Reason classifies why a real on-chain payment did not satisfy the expected
// price. These are terminal for the subject: a mismatched payment is never
// retried, it is persisted for manual reconciliation.
type Reason string

const (
	ReasonUnsupportedAsset Reason = "UNSUPPORTED_ASSET"
	ReasonCurrencyMismatch Reason = "CURRENCY_MISMATCH"
	ReasonAmountMismatch   Reason = "AMOUNT_MISMATCH"
)

// ValidationError reports a paid escrow that fails validation. It carries the
// record so callers can persist the payment instead of dropping it.
type ValidationError struct {
	Reason Reason
	Detail string
	Record Record
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payment validation: %s: %s", e.Reason, e.Detail)
}

// Validate checks a Paid escrow record against the expected public price and
// an optional alternate quote. It returns the currency the payment matched.
//
// All comparisons are on integer smallest-unit values scaled by the asset's
// decimals; floating point never enters the picture.
func Validate(rec Record, assets []config.Asset, expected Price, quote *Price) (string, error) {
	asset, ok := findAsset(assets, rec.Asset)
	if !ok {
		return "", &ValidationError{
			Reason: ReasonUnsupportedAsset,
			Detail: fmt.Sprintf("no asset configured for %s", rec.Asset.Hex()),
			Record: rec,
		}
	}

	if asset.Currency != "USD" && asset.Currency != expected.Currency {
		return "", &ValidationError{
			Reason: ReasonCurrencyMismatch,
			Detail: fmt.Sprintf("asset currency %s not accepted for a %s offer", asset.Currency, expected.Currency),
			Record: rec,
		}
	}

	want, err := ParseUnits(expected.Amount, asset.Decimals)
	if err != nil {
		return "", fmt.Errorf("expected price: %w", err)
	}
	if rec.Value.Cmp(want) == 0 {
		if asset.Currency != expected.Currency {
			return "", &ValidationError{
				Reason: ReasonCurrencyMismatch,
				Detail: fmt.Sprintf("paid %s against a %s price", asset.Currency, expected.Currency),
				Record: rec,
			}
		}
		return expected.Currency, nil
	}

	if quote != nil {
		wantQuote, err := ParseUnits(quote.Amount, asset.Decimals)
		if err != nil {
			return "", fmt.Errorf("quote price: %w", err)
		}
		if rec.Value.Cmp(wantQuote) == 0 {
			if asset.Currency != quote.Currency {
				return "", &ValidationError{
					Reason: ReasonCurrencyMismatch,
					Detail: fmt.Sprintf("paid %s against a %s quote", asset.Currency, quote.Currency),
					Record: rec,
				}
			}
			return quote.Currency, nil
		}
	}

	return "", &ValidationError{
		Reason: ReasonAmountMismatch,
		Detail: fmt.Sprintf("paid %s %s", rec.Value.String(), asset.Currency),
		Record: rec,
	}
}

func findAsset(assets []config.Asset, addr common.Address) (config.Asset, bool) {
	for _, a := range assets {
		if common.HexToAddress(a.Address) == addr {
			return a, true
		}
	}
	return config.Asset{}, false
}

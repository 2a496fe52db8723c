package escrow

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/winstay/settlement/internal/config"
)

var (
	usdcAddr = "0x1111111111111111111111111111111111111111"
	eurcAddr = "0x2222222222222222222222222222222222222222"

	testAssets = []config.Asset{
		{Address: usdcAddr, Symbol: "USDC", Currency: "USD", Decimals: 6},
		{Address: eurcAddr, Symbol: "EURC", Currency: "EUR", Decimals: 6},
	}
)

func paidRecord(asset string, value int64) Record {
	return Record{
		Customer: common.HexToAddress("0xAAAA000000000000000000000000000000000001"),
		Provider: common.HexToAddress("0xAAAA000000000000000000000000000000000002"),
		Asset:    common.HexToAddress(asset),
		Value:    big.NewInt(value),
		State:    StatePaid,
	}
}

func TestValidate_ExactUSDAmount(t *testing.T) {
	// 100.00 USD at 6 decimals is exactly 100000000 units.
	rec := paidRecord(usdcAddr, 100000000)

	currency, err := Validate(rec, testAssets, Price{Amount: "100.00", Currency: "USD"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if currency != "USD" {
		t.Errorf("currency = %q, want USD", currency)
	}
}

func TestValidate_AmountMismatch(t *testing.T) {
	rec := paidRecord(usdcAddr, 99000000) // 99.00, one dollar short

	_, err := Validate(rec, testAssets, Price{Amount: "100.00", Currency: "USD"}, nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Reason != ReasonAmountMismatch {
		t.Errorf("reason = %s, want %s", ve.Reason, ReasonAmountMismatch)
	}
	if ve.Record.Value.Cmp(rec.Value) != 0 {
		t.Error("ValidationError must carry the paid record")
	}
}

func TestValidate_UnsupportedAsset(t *testing.T) {
	rec := paidRecord("0x9999999999999999999999999999999999999999", 100000000)

	_, err := Validate(rec, testAssets, Price{Amount: "100.00", Currency: "USD"}, nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Reason != ReasonUnsupportedAsset {
		t.Errorf("reason = %s, want %s", ve.Reason, ReasonUnsupportedAsset)
	}
}

func TestValidate_CurrencyNotAccepted(t *testing.T) {
	// EUR asset against a GBP offer: neither USD nor the offer currency.
	rec := paidRecord(eurcAddr, 100000000)

	_, err := Validate(rec, testAssets, Price{Amount: "100.00", Currency: "GBP"}, nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Reason != ReasonCurrencyMismatch {
		t.Errorf("reason = %s, want %s", ve.Reason, ReasonCurrencyMismatch)
	}
}

func TestValidate_USDQuoteMatch(t *testing.T) {
	// EUR-priced offer paid in USD at the quoted conversion.
	rec := paidRecord(usdcAddr, 108500000) // 108.50 USD

	currency, err := Validate(rec, testAssets,
		Price{Amount: "100.00", Currency: "EUR"},
		&Price{Amount: "108.50", Currency: "USD"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if currency != "USD" {
		t.Errorf("currency = %q, want USD", currency)
	}
}

func TestValidate_QuoteAmountStillWrong(t *testing.T) {
	rec := paidRecord(usdcAddr, 107000000) // matches neither price nor quote

	_, err := Validate(rec, testAssets,
		Price{Amount: "100.00", Currency: "EUR"},
		&Price{Amount: "108.50", Currency: "USD"},
	)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Reason != ReasonAmountMismatch {
		t.Errorf("reason = %s, want %s", ve.Reason, ReasonAmountMismatch)
	}
}

func TestValidate_OfferCurrencyExactMatch(t *testing.T) {
	rec := paidRecord(eurcAddr, 100000000)

	currency, err := Validate(rec, testAssets, Price{Amount: "100.00", Currency: "EUR"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if currency != "EUR" {
		t.Errorf("currency = %q, want EUR", currency)
	}
}

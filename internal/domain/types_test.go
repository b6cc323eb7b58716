package domain_test

import (
	"encoding/json"
	"errors"
	"testing"

	"PredictLedger/internal/domain"
)

func TestCommodityID_NamePadding(t *testing.T) {
	id := domain.MustCommodity("MAIZE")

	if id[0] != 'M' || id[4] != 'E' || id[5] != 0 || id[31] != 0 {
		t.Fatalf("unexpected padding: %x", id[:])
	}
	if got := id.String(); got != "MAIZE" {
		t.Errorf("got %q, want MAIZE", got)
	}
}

func TestCommodityID_ExactEquality(t *testing.T) {
	// No normalization: case differs, ids differ.
	if domain.MustCommodity("maize") == domain.MustCommodity("MAIZE") {
		t.Error("ids with different bytes must differ")
	}
}

func TestParseCommodityID_Hex(t *testing.T) {
	want := domain.MustCommodity("COFFEE")
	got, err := domain.ParseCommodityID(want.Hex())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestParseCommodityID_TooLong(t *testing.T) {
	if _, err := domain.ParseCommodityID("THIS-NAME-IS-DEFINITELY-LONGER-THAN-32"); err == nil {
		t.Fatal("expected error for name over 32 bytes")
	}
}

func TestCommodityID_NonPrintableUsesHex(t *testing.T) {
	var id domain.CommodityID
	id[0] = 0xff
	if got := id.String(); got != id.Hex() {
		t.Errorf("got %q, want hex form", got)
	}
}

func TestSide_JSON(t *testing.T) {
	var v struct {
		Side domain.Side `json:"side"`
	}
	if err := json.Unmarshal([]byte(`{"side":"no"}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Side != domain.SideNo {
		t.Errorf("got %s, want NO", v.Side)
	}

	err := json.Unmarshal([]byte(`{"side":"maybe"}`), &v)
	if !errors.Is(err, domain.ErrInvalidSide) {
		t.Errorf("got %v, want InvalidSide", err)
	}
}

func TestSideForOutcome(t *testing.T) {
	if domain.SideForOutcome(true) != domain.SideYes {
		t.Error("true outcome must map to YES")
	}
	if domain.SideForOutcome(false) != domain.SideNo {
		t.Error("false outcome must map to NO")
	}
}

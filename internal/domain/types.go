package domain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// CommodityID is an opaque 32-byte commodity identifier compared by exact
// byte equality. Human-readable ids are ASCII names right-padded with NUL.
type CommodityID [32]byte

// CommodityFromName pads an ASCII name of at most 32 bytes.
func CommodityFromName(name string) (CommodityID, error) {
	var id CommodityID
	if name == "" || len(name) > len(id) {
		return id, fmt.Errorf("commodity name must be 1-32 bytes, got %d", len(name))
	}
	copy(id[:], name)
	return id, nil
}

// MustCommodity is CommodityFromName for constants and tests.
func MustCommodity(name string) CommodityID {
	id, err := CommodityFromName(name)
	if err != nil {
		panic(err)
	}
	return id
}

// ParseCommodityID accepts either 64 hex characters (optionally 0x-prefixed)
// or an ASCII name.
func ParseCommodityID(s string) (CommodityID, error) {
	var id CommodityID
	h := strings.TrimPrefix(s, "0x")
	if len(h) == 2*len(id) {
		if raw, err := hex.DecodeString(h); err == nil {
			copy(id[:], raw)
			return id, nil
		}
	}
	return CommodityFromName(s)
}

func (c CommodityID) IsZero() bool {
	return c == CommodityID{}
}

// Hex returns the 0x-prefixed hex form, which is the canonical storage key.
func (c CommodityID) Hex() string {
	return "0x" + hex.EncodeToString(c[:])
}

// String returns the padded name when the id is printable ASCII, otherwise
// the hex form.
func (c CommodityID) String() string {
	name := bytes.TrimRight(c[:], "\x00")
	if len(name) == 0 {
		return c.Hex()
	}
	for _, b := range name {
		if b < 0x20 || b > 0x7e {
			return c.Hex()
		}
	}
	return string(name)
}

func (c CommodityID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CommodityID) UnmarshalText(text []byte) error {
	id, err := ParseCommodityID(string(text))
	if err != nil {
		return err
	}
	*c = id
	return nil
}

// Side is the outcome a stake is placed on.
type Side int8

const (
	SideUnknown Side = iota
	SideYes
	SideNo
)

func (s Side) String() string {
	switch s {
	case SideYes:
		return "YES"
	case SideNo:
		return "NO"
	default:
		return "UNKNOWN"
	}
}

func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// SideForOutcome maps a resolution outcome onto the winning side.
func SideForOutcome(outcome bool) Side {
	if outcome {
		return SideYes
	}
	return SideNo
}

// ParseSide accepts YES/NO in any case, and true/false.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "TRUE":
		return SideYes, nil
	case "NO", "FALSE":
		return SideNo, nil
	default:
		return SideUnknown, ErrInvalidSide
	}
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, ErrInvalidSide
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	side, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

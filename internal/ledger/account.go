package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeMarket
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// Market sub-types
	SubTypeMarketPool

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const AssetUSDC AssetID = 1

var (
	assetToID = map[string]AssetID{
		"USDC": AssetUSDC,
	}
	idToAsset = map[AssetID]string{
		AssetUSDC: "USDC",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID common.Hash // left-padded address for users, uuid bytes for markets
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for participant accounts
func NewUserAccountKey(owner common.Address, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: common.BytesToHash(owner.Bytes()),
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewMarketAccountKey creates a key for per-market custody accounts
func NewMarketAccountKey(marketID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	var entity common.Hash
	copy(entity[:len(marketID)], marketID[:])
	return AccountKey{
		Scope:    AccountScopeMarket,
		EntityID: entity,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// Owner returns the participant address of a user account.
func (k AccountKey) Owner() common.Address {
	return common.BytesToAddress(k.EntityID[common.HashLength-common.AddressLength:])
}

// MarketID returns the market of a market account.
func (k AccountKey) MarketID() uuid.UUID {
	var id uuid.UUID
	copy(id[:], k.EntityID[:len(id)])
	return id
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", strings.ToLower(k.Owner().Hex()), k.subTypeName(), assetName)
	case AccountScopeMarket:
		return fmt.Sprintf("market:%s:%s:%s", k.MarketID(), k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeMarketPool:
		return "pool"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}

func parseSubType(name string) (AccountSubType, bool) {
	switch name {
	case "wallet":
		return SubTypeWallet, true
	case "pool":
		return SubTypeMarketPool, true
	case "deposits":
		return SubTypeExternalDeposits, true
	case "withdrawals":
		return SubTypeExternalWithdrawals, true
	}
	return 0, false
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	asset := func(name string) (AssetID, error) {
		id, ok := GetAssetID(name)
		if !ok {
			return 0, fmt.Errorf("account path %q: unknown asset %q", path, name)
		}
		return id, nil
	}

	switch {
	case len(parts) == 4 && parts[0] == "user":
		if !common.IsHexAddress(parts[1]) {
			return AccountKey{}, fmt.Errorf("account path %q: bad address", path)
		}
		sub, ok := parseSubType(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type", path)
		}
		assetID, err := asset(parts[3])
		if err != nil {
			return AccountKey{}, err
		}
		return NewUserAccountKey(common.HexToAddress(parts[1]), sub, assetID), nil

	case len(parts) == 4 && parts[0] == "market":
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		sub, ok := parseSubType(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type", path)
		}
		assetID, err := asset(parts[3])
		if err != nil {
			return AccountKey{}, err
		}
		return NewMarketAccountKey(id, sub, assetID), nil

	case len(parts) == 3 && parts[0] == "external":
		sub, ok := parseSubType(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type", path)
		}
		assetID, err := asset(parts[2])
		if err != nil {
			return AccountKey{}, err
		}
		return NewExternalAccountKey(sub, assetID), nil
	}

	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}

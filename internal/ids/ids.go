// Package ids defines the 128-bit identity types shared by markets,
// positions, and chained positions. Identities are plain values, not
// addresses — they never hold keys and are never used for signing.
package ids

import "github.com/google/uuid"

// MarketID identifies a market.
type MarketID [16]byte

// PositionID identifies a position.
type PositionID [16]byte

// ChainID identifies a chained position.
type ChainID [16]byte

// VerseID identifies a verse: an auxiliary lending/liquidity/staking pool a
// chain step targets. Verses are opaque to the core beyond the no-revisit
// invariant the chain executor enforces.
type VerseID [16]byte

// NewMarketID generates a fresh random market identity.
func NewMarketID() MarketID { return MarketID(uuid.New()) }

// NewPositionID generates a fresh random position identity.
func NewPositionID() PositionID { return PositionID(uuid.New()) }

// NewChainID generates a fresh random chain identity.
func NewChainID() ChainID { return ChainID(uuid.New()) }

// NewVerseID generates a fresh random verse identity.
func NewVerseID() VerseID { return VerseID(uuid.New()) }

func (id MarketID) String() string   { return uuid.UUID(id).String() }
func (id PositionID) String() string { return uuid.UUID(id).String() }
func (id ChainID) String() string    { return uuid.UUID(id).String() }
func (id VerseID) String() string    { return uuid.UUID(id).String() }

// IsZero reports whether the identity is the zero value (never assigned).
func (id MarketID) IsZero() bool   { return id == MarketID{} }
func (id PositionID) IsZero() bool { return id == PositionID{} }
func (id ChainID) IsZero() bool    { return id == ChainID{} }
func (id VerseID) IsZero() bool    { return id == VerseID{} }

// ParseMarketID parses a canonical UUID string into a MarketID.
func ParseMarketID(s string) (MarketID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return MarketID{}, err
	}
	return MarketID(u), nil
}

// ParsePositionID parses a canonical UUID string into a PositionID.
func ParsePositionID(s string) (PositionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PositionID{}, err
	}
	return PositionID(u), nil
}

// ParseChainID parses a canonical UUID string into a ChainID.
func ParseChainID(s string) (ChainID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ChainID{}, err
	}
	return ChainID(u), nil
}

// ParseVerseID parses a canonical UUID string into a VerseID.
func ParseVerseID(s string) (VerseID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return VerseID{}, err
	}
	return VerseID(u), nil
}

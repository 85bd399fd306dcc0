// Package admin authenticates and dispatches the operator control surface:
// Halt, Resume, SetBootstrapTarget, MigrateMarket, and AdjustParameters.
// Commands are hashed and signed the same way the swap gateway's vouchers
// are (services/swap-gateway/voucher.go: a deterministic pipe-delimited
// payload, keccak256'd, secp256k1-signed via go-ethereum's crypto package),
// reusing the module's own crypto.Address/ECDSA identity rather than
// inventing a second authentication scheme.
package admin

import (
	"fmt"
	"strings"

	"predcore/crypto"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Kind enumerates the recognized admin commands.
type Kind string

const (
	KindHalt               Kind = "Halt"
	KindResume             Kind = "Resume"
	KindSetBootstrapTarget Kind = "SetBootstrapTarget"
	KindMigrateMarket      Kind = "MigrateMarket"
	KindAdjustParameters   Kind = "AdjustParameters"
)

// MarketAll targets every market rather than a single marketID.
const MarketAll = "ALL"

// Parameters carries the AdjustParameters payload. The fixed-point fields
// are decimal strings written into the signed payload verbatim, so the
// hash covers exactly the text that was signed.
type Parameters struct {
	MinFeeBps            uint64
	MaxFeeBps            uint64
	LiquidationBountyMin string
	Tau                  string
	MaintenanceMargin    string
}

// Command is a single admin instruction, pending authentication.
type Command struct {
	Kind Kind

	// MarketID is either a market UUID string or admin.MarketAll.
	MarketID string

	DurationTicks   uint64
	BootstrapTarget string
	NewShard        string
	Parameters      Parameters

	// Nonce and Expiry bound replay: a command is only honored once, and
	// only before Expiry (a tick count, not wall-clock time, since the
	// core has no wall-clock dependency elsewhere).
	Nonce  string
	Expiry uint64
}

// Hash renders the command deterministically and returns its keccak256
// digest, the payload an admin signature covers.
func (c Command) Hash() ([]byte, error) {
	if c.Kind == "" {
		return nil, fmt.Errorf("admin: command kind required")
	}
	if strings.TrimSpace(c.Nonce) == "" {
		return nil, fmt.Errorf("admin: command nonce required")
	}
	payload := fmt.Sprintf(
		"predcore-admin-v1|kind=%s|market=%s|duration=%d|bootstrap=%s|shard=%s|minfee=%d|maxfee=%d|bounty=%s|tau=%s|mmargin=%s|nonce=%s|expiry=%d",
		c.Kind,
		strings.ToLower(c.MarketID),
		c.DurationTicks,
		c.BootstrapTarget,
		c.NewShard,
		c.Parameters.MinFeeBps,
		c.Parameters.MaxFeeBps,
		c.Parameters.LiquidationBountyMin,
		c.Parameters.Tau,
		c.Parameters.MaintenanceMargin,
		strings.ToLower(c.Nonce),
		c.Expiry,
	)
	return ethcrypto.Keccak256([]byte(payload)), nil
}

// Sign signs the command with priv, returning the 65-byte secp256k1
// signature the Authenticator expects to recover against.
func Sign(c Command, priv *crypto.PrivateKey) ([]byte, error) {
	hash, err := c.Hash()
	if err != nil {
		return nil, err
	}
	return ethcrypto.Sign(hash, priv.PrivateKey)
}

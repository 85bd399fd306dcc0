package admin

import (
	"fmt"
	"sync"

	"predcore/crypto"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/time/rate"
)

// DefaultVerifyRatePerSecond and DefaultVerifyBurst bound how often
// Verify will even attempt signature recovery for a given admin address,
// independent of whether the signature turns out to be valid. This is a
// wall-clock throttle (unlike every other check in this package, which is
// tick-scoped) since a command's arrival time, not the deterministic
// engine clock, is what an attacker flooding Dispatch controls.
const (
	DefaultVerifyRatePerSecond = 5
	DefaultVerifyBurst         = 10
)

// Executor applies an authenticated command to live engine state. Declared
// here rather than imported from internal/engine so this package never
// depends on the component it authenticates commands for — the engine
// satisfies this interface once it exists.
type Executor interface {
	Halt(marketID string, durationTicks uint64) error
	Resume(marketID string) error
	SetBootstrapTarget(value string) error
	MigrateMarket(marketID, newShard string) error
	AdjustParameters(p Parameters) error
}

// Authenticator verifies admin command signatures against a single
// configured admin address and guards against replay, the in-memory
// implementation the module ships (mirroring the voucher recovery flow in
// services/swap-gateway/voucher.go: recover the signer's pubkey from the
// signature, derive its address, compare).
type Authenticator struct {
	adminAddr crypto.Address
	limiter   *rate.Limiter

	mu        sync.Mutex
	seenNonce map[string]struct{}
}

// NewAuthenticator configures an Authenticator that only accepts commands
// signed by adminAddr's private key, throttled to
// DefaultVerifyRatePerSecond/DefaultVerifyBurst verification attempts per
// second, matching gateway/middleware/ratelimit.go's per-key
// rate.NewLimiter idiom (here there is only ever one key: the single
// configured admin address).
func NewAuthenticator(adminAddr crypto.Address) *Authenticator {
	return &Authenticator{
		adminAddr: adminAddr,
		limiter:   rate.NewLimiter(rate.Limit(DefaultVerifyRatePerSecond), DefaultVerifyBurst),
		seenNonce: make(map[string]struct{}),
	}
}

// Verify checks the signature and rejects a nonce it has already consumed.
// currentTick must be strictly less than the command's Expiry.
func (a *Authenticator) Verify(c Command, sig []byte, currentTick uint64) error {
	if !a.limiter.Allow() {
		return fmt.Errorf("admin: command verification rate exceeded")
	}
	if currentTick >= c.Expiry {
		return fmt.Errorf("admin: command expired at tick %d (now %d)", c.Expiry, currentTick)
	}

	hash, err := c.Hash()
	if err != nil {
		return err
	}
	pub, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("admin: recover signer: %w", err)
	}
	addrBytes := ethcrypto.PubkeyToAddress(*pub).Bytes()
	signer, err := crypto.NewAddress(a.adminAddr.Prefix(), addrBytes)
	if err != nil {
		return fmt.Errorf("admin: derive signer address: %w", err)
	}
	if signer.String() != a.adminAddr.String() {
		return fmt.Errorf("admin: command signed by %s, want %s", signer.String(), a.adminAddr.String())
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.seenNonce[c.Nonce]; seen {
		return fmt.Errorf("admin: nonce %q already consumed", c.Nonce)
	}
	a.seenNonce[c.Nonce] = struct{}{}
	return nil
}

// Dispatch verifies c/sig and, on success, applies it to exec.
func (a *Authenticator) Dispatch(c Command, sig []byte, currentTick uint64, exec Executor) error {
	if err := a.Verify(c, sig, currentTick); err != nil {
		return err
	}
	switch c.Kind {
	case KindHalt:
		return exec.Halt(c.MarketID, c.DurationTicks)
	case KindResume:
		return exec.Resume(c.MarketID)
	case KindSetBootstrapTarget:
		return exec.SetBootstrapTarget(c.BootstrapTarget)
	case KindMigrateMarket:
		return exec.MigrateMarket(c.MarketID, c.NewShard)
	case KindAdjustParameters:
		return exec.AdjustParameters(c.Parameters)
	default:
		return fmt.Errorf("admin: unrecognized command kind %q", c.Kind)
	}
}

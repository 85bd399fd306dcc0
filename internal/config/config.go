// Package config loads the engine's TOML configuration, one nested section
// per component, following the teacher's native/lending/config.go
// toml-tagged struct + EnsureDefaults pattern and config/config.go's
// Load/createDefault file handling (github.com/BurntSushi/toml).
//
// fixedpoint.Fixed implements encoding.TextMarshaler/TextUnmarshaler, so its
// fields decode directly from TOML decimal strings the same way the
// teacher's *big.Int config fields decode for free from stdlib's own
// encoding.TextUnmarshaler support.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"predcore/internal/fee"
	"predcore/internal/fixedpoint"
	"predcore/internal/leverage"
	"predcore/internal/liquidation"
	"predcore/internal/oracle"
)

// VaultConfig configures internal/vault.New.
type VaultConfig struct {
	Tau fixedpoint.Fixed `toml:"Tau"`
}

// AMMKind selects which of the three AMM implementations a market is backed
// by (internal/amm's LMSR, PM-AMM, or L2AMM).
type AMMKind string

const (
	AMMKindLMSR  AMMKind = "lmsr"
	AMMKindPMAMM AMMKind = "pmamm"
	AMMKindL2AMM AMMKind = "l2amm"
)

// AMMConfig configures whichever internal/amm constructor Kind selects.
// Fields unused by the selected Kind are ignored.
type AMMConfig struct {
	Kind AMMKind `toml:"Kind"`

	// LMSR / PM-AMM liquidity parameter (b or L).
	Liquidity fixedpoint.Fixed `toml:"Liquidity"`
	// PM-AMM outcome count and LVR mode.
	OutcomeCount int `toml:"OutcomeCount"`
	LVRMode      int `toml:"LVRMode"`
	// L2AMM bucket count and curvature/depth-cap parameters.
	Buckets int              `toml:"Buckets"`
	K       fixedpoint.Fixed `toml:"K"`
	BMax    fixedpoint.Fixed `toml:"BMax"`
}

// ChainConfig configures internal/chain's liquidity-boost defaults. The
// module's own MaxChainSteps/MaxCPIDepth constants stay hard bounds (§6
// "within hard-coded bounds") and are not configurable.
type ChainConfig struct {
	LiquidityLVR fixedpoint.Fixed `toml:"LiquidityLVR"`
	LiquidityTau fixedpoint.Fixed `toml:"LiquidityTau"`
}

// Config is the engine's full TOML configuration, one section per
// component (§10.1).
type Config struct {
	Service string `toml:"Service"`
	Env     string `toml:"Env"`

	// AdminAddress is the bech32 address (internal/admin.Authenticator)
	// commands on the admin control surface must be signed by.
	AdminAddress string `toml:"AdminAddress"`

	TelemetryEndpoint string `toml:"TelemetryEndpoint"`

	Vault       VaultConfig        `toml:"vault"`
	AMM         AMMConfig          `toml:"amm"`
	Leverage    leverage.Params    `toml:"leverage"`
	Chain       ChainConfig        `toml:"chain"`
	Liquidation liquidation.Params `toml:"liquidation"`
	Fee         fee.Params         `toml:"fee"`
	Oracle      oracle.Config      `toml:"oracle"`
}

// EnsureDefaults fills zero-valued fields with documented defaults,
// mirroring the teacher's Config.EnsureDefaults for *big.Int fields.
func (c *Config) EnsureDefaults() {
	if c.Vault.Tau.IsZero() {
		c.Vault.Tau = fixedpoint.Zero() // caller-visible zero; internal/vault.New substitutes its own DefaultTau
	}
	if c.AMM.Kind == "" {
		c.AMM.Kind = AMMKindPMAMM
	}

	// leverage.Params and liquidation.Params carry no public
	// EnsureDefaults of their own (unlike oracle.Config and fee.Params,
	// which already self-default inside EnsureDefaults/New); merge
	// zero-valued fields against each package's own DefaultParams here so
	// a partially-specified [leverage]/[liquidation] TOML section still
	// produces governance-sane values.
	leverageDefaults := leverage.DefaultParams()
	if c.Leverage.MaintenanceMargin.IsZero() {
		c.Leverage.MaintenanceMargin = leverageDefaults.MaintenanceMargin
	}
	if c.Leverage.QuizThreshold.IsZero() {
		c.Leverage.QuizThreshold = leverageDefaults.QuizThreshold
	}
	if c.Leverage.AbsoluteCap.IsZero() {
		c.Leverage.AbsoluteCap = leverageDefaults.AbsoluteCap
	}
	if c.Leverage.PriceEpsilon.IsZero() {
		c.Leverage.PriceEpsilon = leverageDefaults.PriceEpsilon
	}

	liquidationDefaults := liquidation.DefaultParams()
	if c.Liquidation.WarningThreshold.IsZero() {
		c.Liquidation.WarningThreshold = liquidationDefaults.WarningThreshold
	}
	if c.Liquidation.ExtremeDrawdownThreshold.IsZero() {
		c.Liquidation.ExtremeDrawdownThreshold = liquidationDefaults.ExtremeDrawdownThreshold
	}
	if c.Liquidation.SeizurePenalty.IsZero() {
		c.Liquidation.SeizurePenalty = liquidationDefaults.SeizurePenalty
	}
	if c.Liquidation.CascadeWindowTicks == 0 {
		c.Liquidation.CascadeWindowTicks = liquidationDefaults.CascadeWindowTicks
	}
	if c.Liquidation.CascadeThreshold.IsZero() {
		c.Liquidation.CascadeThreshold = liquidationDefaults.CascadeThreshold
	}
	if c.Liquidation.CascadeHaltDuration == 0 {
		c.Liquidation.CascadeHaltDuration = liquidationDefaults.CascadeHaltDuration
	}

	// fee.Params self-defaults inside fee.New via its own unexported
	// withDefaults, so zero-valued [fee] fields are left as-is here.
	c.Oracle = c.Oracle.EnsureDefaults()
	if c.Chain.LiquidityLVR.IsZero() {
		c.Chain.LiquidityLVR = chainDefaultLiquidityLVR
	}
	if c.Chain.LiquidityTau.IsZero() {
		c.Chain.LiquidityTau = chainDefaultLiquidityTau
	}
}

// Validate enforces the admin control surface's hard bounds (§6): nothing
// decoded from a config file may exceed limits the code itself fixes.
func (c Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("config: Service name required")
	}
	if c.AMM.Kind != AMMKindLMSR && c.AMM.Kind != AMMKindPMAMM && c.AMM.Kind != AMMKindL2AMM {
		return fmt.Errorf("config: unknown amm.Kind %q", c.AMM.Kind)
	}
	if c.Fee.CongestionCapBps > 10000 {
		return fmt.Errorf("config: fee.CongestionCapBps %d exceeds 10000 bps", c.Fee.CongestionCapBps)
	}
	if c.Leverage.AbsoluteCap.Sign() <= 0 {
		return fmt.Errorf("config: leverage.AbsoluteCap must be positive")
	}
	return nil
}

// LoadConfig reads and decodes the TOML file at path.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteDefault writes a fresh default configuration to path, mirroring the
// teacher's config.createDefault.
func WriteDefault(path, service, env string) (*Config, error) {
	cfg := &Config{Service: service, Env: env, AMM: AMMConfig{Kind: AMMKindPMAMM}}
	cfg.EnsureDefaults()

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var (
	chainDefaultLiquidityLVR = mustFraction(5, 100)
	chainDefaultLiquidityTau = mustFraction(1, 10)
)

func mustFraction(num, den int64) fixedpoint.Fixed {
	f, err := fixedpoint.FromFraction(num, den)
	if err != nil {
		panic(err)
	}
	return f
}

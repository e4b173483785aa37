package crowdfund

import (
	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-crowdfund/internal/types"
)

// DefaultFee is the activation fee: 50 USDC in 6 decimal quarks.
const DefaultFee uint64 = 50_000_000

// Config holds the deploy-time parameters of the program.
type Config struct {
	// Fee is the exact amount an activation must pay.
	Fee uint64 `env:"CROWDFUND_FEE" envDefault:"50000000"`

	// TokenProgram is the only settlement engine the program will invoke.
	TokenProgram types.Pubkey `env:"CROWDFUND_TOKEN_PROGRAM" envDefault:"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"`

	// FeeMint is the mint the fee vault must hold.
	FeeMint types.Pubkey `env:"CROWDFUND_FEE_MINT" envDefault:"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"`

	// Vulnerable skips the settlement engine identity and fee vault checks.
	// It exists only to reproduce the exploits against the unpatched program.
	Vulnerable bool `env:"CROWDFUND_VULNERABLE" envDefault:"false"`
}

// DefaultConfig returns the hardened mainnet configuration.
func DefaultConfig() Config {
	return Config{
		Fee:          DefaultFee,
		TokenProgram: types.TokenProgramAddr,
		FeeMint:      types.USDCMintAddr,
	}
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse crowdfund config")
	}
	if cfg.TokenProgram.IsZero() {
		return Config{}, errors.New("token program must be set")
	}
	return cfg, nil
}

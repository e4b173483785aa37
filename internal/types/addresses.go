package types

// Native program addresses.
var (
	// SystemProgramAddr is the System Program address.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// BPFLoaderUpgradeableAddr owns deployed program accounts.
	BPFLoaderUpgradeableAddr = MustPubkeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111")

	// NativeLoaderAddr owns builtin program accounts.
	NativeLoaderAddr = MustPubkeyFromBase58("NativeLoader1111111111111111111111111111111")

	// SysvarRentAddr is the Rent sysvar address.
	SysvarRentAddr = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")
)

// SPL program addresses.
var (
	// TokenProgramAddr is the genuine SPL Token program, the settlement engine
	// the crowdfund program pins by default.
	TokenProgramAddr = MustPubkeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// AssociatedTokenProgramAddr is the Associated Token Account program.
	AssociatedTokenProgramAddr = MustPubkeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// Token mints.
var (
	// USDCMintAddr is the mainnet USDC mint. Amounts are in 6-decimal quarks.
	USDCMintAddr = MustPubkeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
)

// IsNativeProgram returns true if the pubkey is a builtin program.
func IsNativeProgram(p Pubkey) bool {
	switch p {
	case SystemProgramAddr,
		BPFLoaderUpgradeableAddr,
		NativeLoaderAddr:
		return true
	default:
		return false
	}
}

package registry

import "strings"

// Token describes a known ERC-20 asset on a supported chain.
type Token struct {
	Symbol   string
	Address  string
	Decimals int
}

// Contracts bundles per-chain protocol addresses. All fields can be
// overridden through configuration; these are the audited mainnet defaults.
type Contracts struct {
	VaultFactory  string
	Staking       string // Sonic liquid staking (mints stS)
	WrappedNative string // wS
}

const sonicChainID int64 = 146

var contractsByChainID = map[int64]Contracts{
	sonicChainID: {
		Staking:       "0xE5DA20F15420aD15DE0fa650600aFc998bbE3955",
		WrappedNative: "0x039e2fB66102314Ce7b64Ce5Ce3E5183bc94aD38",
	},
}

var tokensByChainID = map[int64][]Token{
	sonicChainID: {
		{Symbol: "wS", Address: "0x039e2fB66102314Ce7b64Ce5Ce3E5183bc94aD38", Decimals: 18},
		{Symbol: "stS", Address: "0xE5DA20F15420aD15DE0fa650600aFc998bbE3955", Decimals: 18},
		{Symbol: "USDC.e", Address: "0x29219dd400f2Bf60E5a23d13Be72B486D4038894", Decimals: 6},
		{Symbol: "WETH", Address: "0x50c42dEAcD8Fc9773493ED674b675bE577f2634b", Decimals: 18},
	},
}

func ContractsFor(chainID int64) (Contracts, bool) {
	c, ok := contractsByChainID[chainID]
	return c, ok
}

// ResolveToken looks a token up by symbol (case-insensitive) or by address.
func ResolveToken(chainID int64, ref string) (Token, bool) {
	clean := strings.TrimSpace(ref)
	if clean == "" {
		return Token{}, false
	}
	for _, t := range tokensByChainID[chainID] {
		if strings.EqualFold(t.Symbol, clean) || strings.EqualFold(t.Address, clean) {
			return t, true
		}
	}
	return Token{}, false
}

func Tokens(chainID int64) []Token {
	return tokensByChainID[chainID]
}

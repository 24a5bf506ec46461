package domain

// The exchange lists a single pair.
const (
	BaseAsset  = "BAD"
	QuoteAsset = "USDC"
)

// Assets lists every asset tracked by the ledger.
var Assets = []string{BaseAsset, QuoteAsset}

package market

import "context"

// OnChainData carries chain-level flow readings. Positive net flow
// means coins moving onto exchanges (sell-side supply).
type OnChainData struct {
	ExchangeNetFlow float64 `json:"exchange_net_flow"`
	WhaleTxCount    int     `json:"whale_tx_count"`
	StablecoinMint  float64 `json:"stablecoin_mint"`
}

// IsZero reports whether the reading carries no signal at all, which
// is what NeutralOnChain returns. Consumers treat it as data absent.
func (d *OnChainData) IsZero() bool {
	return d == nil || (d.ExchangeNetFlow == 0 && d.WhaleTxCount == 0 && d.StablecoinMint == 0)
}

// SentimentData carries crowd-mood readings. FearGreed is the 0-100
// index (0 = extreme fear); SocialScore is in [-1, 1].
type SentimentData struct {
	FearGreed     int     `json:"fear_greed"`
	SocialScore   float64 `json:"social_score"`
	TwitterVolume float64 `json:"twitter_volume"`
}

// MacroData carries cross-market readings. Changes are daily
// fractional moves.
type MacroData struct {
	DXYChange    float64 `json:"dxy_change"`
	SP500Change  float64 `json:"sp500_change"`
	GoldChange   float64 `json:"gold_change"`
	TenYearYield float64 `json:"ten_year_yield"`
	VIX          float64 `json:"vix"`
}

// OnChainProvider supplies chain-flow data for a symbol.
type OnChainProvider interface {
	OnChain(ctx context.Context, symbol string) (*OnChainData, error)
}

// SentimentProvider supplies crowd-mood data for a symbol.
type SentimentProvider interface {
	Sentiment(ctx context.Context, symbol string) (*SentimentData, error)
}

// MacroProvider supplies cross-market data.
type MacroProvider interface {
	Macro(ctx context.Context) (*MacroData, error)
}

// Neutral defaults: used when a provider is not configured or fails.
// Agents score them as "no signal", so a missing provider never biases
// a decision.

// NeutralOnChain returns flow data that reads as no signal.
func NeutralOnChain() *OnChainData {
	return &OnChainData{}
}

// NeutralSentiment returns the midpoint fear & greed reading.
func NeutralSentiment() *SentimentData {
	return &SentimentData{FearGreed: 50}
}

// NeutralMacro returns macro data that reads as no signal.
func NeutralMacro() *MacroData {
	return &MacroData{}
}

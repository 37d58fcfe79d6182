package models

import "time"

// TopBuyer is one entry of an Alert's top_buyers list.
type TopBuyer struct {
	Wallet    string  `json:"wallet"`
	VolumeSOL float64 `json:"volumeSol"`
	IsNew     bool    `json:"isNew"`
}

// ClusterSummary is one entry of an Alert's clusters list.
type ClusterSummary struct {
	RootWallet   string  `json:"rootWallet"`
	MemberCount  int     `json:"memberCount"`
	VolumeShare  float64 `json:"volumeShare"`
}

// CTOComponents breaks down the weighted CTO score so the alert payload can
// show its work.
type CTOComponents struct {
	Cluster       float64 `json:"cluster"`
	Concentration float64 `json:"concentration"`
	Timing        float64 `json:"timing"`
	NewWallet     float64 `json:"newWallet"`
	Ratio         float64 `json:"ratio"`
}

// Alert is the enriched, channel-agnostic payload formatted by the alert
// dispatcher.
type Alert struct {
	ID              string          `json:"id"`
	Mint            string          `json:"mint"`
	TokenSymbol     string          `json:"tokenSymbol,omitempty"`
	TokenName       string          `json:"tokenName,omitempty"`
	TokenImage      string          `json:"tokenImage,omitempty"`
	TriggerName     string          `json:"triggerName"`
	Venue           string          `json:"venue"`
	VolumeSOL5m     float64         `json:"volumeSol5m"`
	BuyCount5m      int64           `json:"buyCount5m"`
	SellCount5m     int64           `json:"sellCount5m"`
	UniqueBuyers5m  int64           `json:"uniqueBuyers5m"`
	BuySellRatio5m  float64         `json:"buySellRatio5m"` // +Inf serialized as RatioSentinelJSON
	MCapSOL         float64         `json:"mcapSol,omitempty"`
	AvgEntryMCap    float64         `json:"avgEntryMcap,omitempty"`
	CTOScore        float64         `json:"ctoScore"`
	CTOComponents   CTOComponents   `json:"ctoComponents"`
	TopBuyers       []TopBuyer      `json:"topBuyers"`
	Clusters        []ClusterSummary `json:"clusters"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// RatioSentinelJSON is the large-but-finite number substituted for +Inf in
// JSON payloads, since JSON has no infinity literal.
const RatioSentinelJSON = 1e9

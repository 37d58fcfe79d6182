package models

import "time"

// WalletProfile is the per-address record consumed by the clusterer.
// ClusterID is resolved lazily at query time from the union-find root, so it
// is not persisted independently of the union-find structure itself.
type WalletProfile struct {
	Address   string // base58 pubkey
	FirstSeen time.Time
	FundedBy  string // base58 pubkey of the wallet that funded this one's first inbound native transfer, "" if unknown
}

// Package cluster implements wallet clustering via the funded_by relation
// (weighted union-find) and the CTO coordination scorer.
package cluster

import "sync"

// Clusterer is a weighted union-find over wallet addresses. Unions arrive
// from one enrichment lookup goroutine per first-seen buyer, so the mutex
// guards concurrent Union calls as well as Find; callers never need to
// serialize among themselves.
type Clusterer struct {
	mu     sync.Mutex
	parent map[string]string
	rank   map[string]int
	size   map[string]int
}

// NewClusterer creates an empty clustering index.
func NewClusterer() *Clusterer {
	return &Clusterer{
		parent: make(map[string]string),
		rank:   make(map[string]int),
		size:   make(map[string]int),
	}
}

// Find returns the cluster root for wallet, with path compression.
// Unseen wallets are implicitly singleton clusters of themselves.
func (c *Clusterer) Find(wallet string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.find(wallet)
}

func (c *Clusterer) find(wallet string) string {
	if _, exists := c.parent[wallet]; !exists {
		c.parent[wallet] = wallet
		c.rank[wallet] = 0
		c.size[wallet] = 1
	}
	if c.parent[wallet] != wallet {
		c.parent[wallet] = c.find(c.parent[wallet])
	}
	return c.parent[wallet]
}

// Union merges the clusters containing a and b by rank. Returns true iff a
// merge actually occurred (they were in different clusters).
func (c *Clusterer) Union(a, b string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rootA := c.find(a)
	rootB := c.find(b)
	if rootA == rootB {
		return false
	}

	switch {
	case c.rank[rootA] < c.rank[rootB]:
		c.parent[rootA] = rootB
		c.size[rootB] += c.size[rootA]
	case c.rank[rootA] > c.rank[rootB]:
		c.parent[rootB] = rootA
		c.size[rootA] += c.size[rootB]
	default:
		c.parent[rootB] = rootA
		c.size[rootA] += c.size[rootB]
		c.rank[rootA]++
	}
	return true
}

// UnionFundedBy applies the funded_by clustering rule directly: when
// wallet's first inbound native transfer came from funder, union them.
func (c *Clusterer) UnionFundedBy(wallet, funder string) bool {
	if wallet == "" || funder == "" || wallet == funder {
		return false
	}
	return c.Union(wallet, funder)
}

// ClusterSize returns the number of wallets in wallet's cluster.
func (c *Clusterer) ClusterSize(wallet string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	root := c.find(wallet)
	return c.size[root]
}

// TotalClusters returns the number of distinct clusters currently tracked.
func (c *Clusterer) TotalClusters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	roots := make(map[string]bool)
	for w := range c.parent {
		roots[c.find(w)] = true
	}
	return len(roots)
}

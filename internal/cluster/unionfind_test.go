package cluster

import "testing"

func TestUnionMergesTwoSingletonClusters(t *testing.T) {
	c := NewClusterer()
	if !c.Union("alice", "bob") {
		t.Fatal("expected first union to merge")
	}
	if c.Find("alice") != c.Find("bob") {
		t.Fatal("expected alice and bob to share a root after union")
	}
	if c.ClusterSize("alice") != 2 {
		t.Fatalf("expected cluster size 2, got %d", c.ClusterSize("alice"))
	}
}

func TestUnionOfAlreadyMergedReturnsFalse(t *testing.T) {
	c := NewClusterer()
	c.Union("a", "b")
	if c.Union("a", "b") {
		t.Fatal("expected second union of same pair to report no merge")
	}
}

func TestTransitiveMergeJoinsThreeWallets(t *testing.T) {
	c := NewClusterer()
	c.UnionFundedBy("b", "a")
	c.UnionFundedBy("c", "b")
	if c.Find("a") != c.Find("c") {
		t.Fatal("expected a and c to end up in the same cluster transitively")
	}
	if got := c.TotalClusters(); got != 1 {
		t.Fatalf("expected 1 cluster, got %d", got)
	}
}

func TestUnionFundedBySelfIsNoOp(t *testing.T) {
	c := NewClusterer()
	if c.UnionFundedBy("a", "a") {
		t.Fatal("expected self-funding to be a no-op")
	}
}

package orchestrator

import (
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestConsumerNameIsDisjointAcrossIndices(t *testing.T) {
	a := consumerName(0)
	b := consumerName(1)
	if a == b {
		t.Fatalf("expected distinct consumer names for distinct indices, got %q twice", a)
	}

	host, _ := os.Hostname()
	want := fmt.Sprintf("parser-%s-%d-0", host, os.Getpid())
	if a != want {
		t.Fatalf("expected consumer name %q, got %q", want, a)
	}
}

func TestConsumerNameHasExpectedShape(t *testing.T) {
	name := consumerName(3)
	if !strings.HasPrefix(name, "parser-") {
		t.Fatalf("expected consumer name to start with parser-, got %q", name)
	}
	if !strings.HasSuffix(name, "-3") {
		t.Fatalf("expected consumer name to end with its index, got %q", name)
	}
}

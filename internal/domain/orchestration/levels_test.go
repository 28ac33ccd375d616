package orchestration

import (
	"errors"
	"reflect"
	"testing"

	"github.com/calier/moxie/internal/domain"
)

func TestValidateAcceptsAcyclicGraph(t *testing.T) {
	deps := Dependencies{
		"summarizer": {"retriever", "ranker"},
		"ranker":     {"retriever"},
	}
	if err := deps.Validate(); err != nil {
		t.Fatalf("expected acyclic graph to validate, got %v", err)
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	deps := Dependencies{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}
	err := deps.Validate()
	if err == nil {
		t.Fatal("expected cycle to be rejected")
	}
	if !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("expected domain.ErrCycle, got %v", err)
	}
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	deps := Dependencies{"a": {"a"}}
	if err := deps.Validate(); !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("expected domain.ErrCycle, got %v", err)
	}
}

func TestLevelsPartitionsByDepth(t *testing.T) {
	deps := Dependencies{
		"summarizer": {"retriever", "ranker"},
		"ranker":     {"retriever"},
	}
	got := deps.Levels([]string{"retriever", "ranker", "summarizer", "weather"})
	want := [][]string{
		{"retriever", "weather"},
		{"ranker"},
		{"summarizer"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("levels mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestLevelsIgnoresUnselectedPrerequisites(t *testing.T) {
	deps := Dependencies{"summarizer": {"retriever"}}

	// retriever was not routed for this request: summarizer runs at level 0.
	got := deps.Levels([]string{"summarizer", "weather"})
	want := [][]string{{"summarizer", "weather"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("levels mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestLevelsPreservesInputOrderWithinLevel(t *testing.T) {
	got := Dependencies{}.Levels([]string{"c", "a", "b"})
	want := [][]string{{"c", "a", "b"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("levels mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestPrerequisitesFiltersToSelected(t *testing.T) {
	deps := Dependencies{"summarizer": {"retriever", "ranker"}}
	selected := map[string]bool{"retriever": true, "summarizer": true}

	got := deps.Prerequisites("summarizer", selected)
	if !reflect.DeepEqual(got, []string{"retriever"}) {
		t.Fatalf("expected [retriever], got %v", got)
	}
}

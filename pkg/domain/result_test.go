package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"zonecore/pkg/domain"
)

func TestResultMergeAndHasBlocking(t *testing.T) {
	var res domain.Result
	if res.HasBlocking() {
		t.Fatal("empty result reports blocking")
	}
	res.Merge(domain.Result{Violations: []domain.Violation{
		{Rule: "tag_window", Severity: domain.SeverityWarn},
	}})
	if res.HasBlocking() {
		t.Fatal("warn-only result reports blocking")
	}
	res.Merge(domain.Result{})
	if len(res.Violations) != 1 {
		t.Fatalf("merge of empty result changed violations: %d", len(res.Violations))
	}
	res.Merge(domain.Result{Violations: []domain.Violation{
		{Rule: "zone_shape", Severity: domain.SeverityBlock},
	}})
	if len(res.Violations) != 2 {
		t.Fatalf("got %d violations, want 2", len(res.Violations))
	}
	if !res.HasBlocking() {
		t.Fatal("blocking violation not detected")
	}
}

func TestRuleViolationErrorUnwraps(t *testing.T) {
	inner := domain.RuleViolationError{Result: domain.Result{Violations: []domain.Violation{
		{Rule: "zone_shape", Severity: domain.SeverityBlock, RecordID: "z1"},
	}}}
	wrapped := fmt.Errorf("commit: %w", inner)
	var rve domain.RuleViolationError
	if !errors.As(wrapped, &rve) {
		t.Fatalf("errors.As failed on %v", wrapped)
	}
	if len(rve.Result.Violations) != 1 || rve.Result.Violations[0].RecordID != "z1" {
		t.Fatalf("violation payload lost: %+v", rve.Result)
	}
}

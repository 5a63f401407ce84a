package core

import (
	"context"
	"fmt"

	"zonecore/pkg/domain"
)

// NewTagWindowRule returns the in-transaction rule validating zone tags: a
// recognised type, severity in 1..5, confidence in 0..1, a referenced zone
// that exists, and a validity window that does not end before it starts.
func NewTagWindowRule() domain.Rule {
	return tagWindowRule{}
}

type tagWindowRule struct{}

func (tagWindowRule) Name() string { return "tag_window" }

func (tagWindowRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	block := func(id, msg string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "tag_window",
			Severity: domain.SeverityBlock,
			Message:  msg,
			Record:   domain.RecordTag,
			RecordID: id,
		})
	}
	for _, tag := range view.ListTags() {
		if !tag.Type.Valid() {
			block(tag.ID, fmt.Sprintf("tag %s has unknown type %q", tag.ID, tag.Type))
		}
		if tag.Severity < 1 || tag.Severity > 5 {
			block(tag.ID, fmt.Sprintf("tag %s severity %d outside 1..5", tag.ID, tag.Severity))
		}
		if tag.Confidence < 0 || tag.Confidence > 1 {
			block(tag.ID, fmt.Sprintf("tag %s confidence %v outside 0..1", tag.ID, tag.Confidence))
		}
		if _, ok := view.FindZone(tag.ZoneID); !ok {
			block(tag.ID, fmt.Sprintf("tag %s references unknown zone %s", tag.ID, tag.ZoneID))
		}
		if tag.ValidTo != nil && tag.ValidTo.Before(tag.ValidFrom) {
			block(tag.ID, fmt.Sprintf("tag %s validity window ends before it starts", tag.ID))
		}
	}
	return res, nil
}

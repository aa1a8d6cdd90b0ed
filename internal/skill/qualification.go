// Package skill applies extraction and qualification to a lead snapshot
// for one user turn.
package skill

import (
	"slices"
	"strings"
	"time"

	"github.com/mn-ai/mnvoice/internal/engine"
	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// Input is what the qualification skill needs from a turn.
type Input struct {
	State protocol.CallState
	Text  string
	Now   time.Time
}

// Outcome reports what a turn changed on the snapshot.
type Outcome struct {
	Changed   bool
	Evaluated bool
	Status    protocol.QualificationStatus
	Reasons   []protocol.QualificationReason
}

// Qualification extracts lead facts from a turn and evaluates the lead once enough is known.
//
// Budget is extracted on every turn. Email is only read while the email
// question is open. The remaining fields are read while their own
// question is open, and timeline is also picked up while answering the
// budget question. Evaluation runs a single time per snapshot.
type Qualification struct{}

// Apply mutates snap in place.
func (q *Qualification) Apply(in Input, snap *protocol.LeadSnapshot) Outcome {
	var out Outcome
	mark := func(changed bool) {
		out.Changed = out.Changed || changed
	}

	mark(snap.SetBudgetBand(engine.ExtractBudget(in.Text), in.Now))

	switch in.State {
	case protocol.StateAskLanguage:
		mark(snap.SetLanguage(engine.ExtractLanguage(in.Text), in.Now))
	case protocol.StateAskCityOrRegion:
		mark(snap.SetCity(strings.TrimSpace(in.Text), in.Now))
		mark(snap.SetRegion(engine.ExtractRegion(in.Text), false, in.Now))
	case protocol.StateAskRegionConfirm:
		mark(snap.SetRegion(engine.ExtractRegion(in.Text), true, in.Now))
	case protocol.StateAskBudget, protocol.StateAskTimeline:
		mark(snap.SetTimeline(engine.ExtractTimeline(in.Text), in.Now))
	case protocol.StateAskRoomSize:
		mark(snap.SetRoomSize(engine.ExtractRoomSize(in.Text), in.Now))
	case protocol.StateAskEmail:
		if email, ok := engine.ExtractEmail(in.Text); ok {
			mark(snap.SetEmail(email, in.Now))
		}
	}

	if !snap.Evaluated() && snap.HasRegion() && snap.HasBudget() {
		status, reasons := engine.Evaluate(snap.RegionValue, snap.BudgetBand)
		snap.RecordQualification(status, reasons, in.Now)
		out.Changed = true
		out.Evaluated = true
		out.Status = status
		out.Reasons = slices.Clone(snap.QualificationReasons)
	}
	return out
}

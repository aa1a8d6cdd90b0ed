package engine

import (
	"errors"
	"fmt"

	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// ErrInvalidState is returned for a state outside the enumerated set.
var ErrInvalidState = errors.New("invalid call state")

// Signals carries what is already known about the lead when choosing the next step.
// The zero value means nothing is known.
type Signals struct {
	HasTimeline   bool
	HasRoomSize   bool
	Qualification protocol.QualificationStatus
}

// NextState returns the state that follows current.
// CLOSE is absorbing; there are no backward transitions.
func NextState(current protocol.CallState, sig Signals) (protocol.CallState, error) {
	switch current {
	case protocol.StateAskLanguage:
		return protocol.StateAskCityOrRegion, nil
	case protocol.StateAskCityOrRegion:
		return protocol.StateAskRegionConfirm, nil
	case protocol.StateAskRegionConfirm:
		return protocol.StateAskBudget, nil
	case protocol.StateAskBudget:
		if !sig.HasTimeline {
			return protocol.StateAskTimeline, nil
		}
		if !sig.HasRoomSize {
			return protocol.StateAskRoomSize, nil
		}
		return protocol.StateQualify, nil
	case protocol.StateAskTimeline:
		if !sig.HasRoomSize {
			return protocol.StateAskRoomSize, nil
		}
		return protocol.StateQualify, nil
	case protocol.StateAskRoomSize:
		return protocol.StateQualify, nil
	case protocol.StateQualify:
		switch sig.Qualification {
		case protocol.QualificationQualified, protocol.QualificationNurture:
			return protocol.StateAskEmail, nil
		}
		return protocol.StateClose, nil
	case protocol.StateAskEmail, protocol.StateClose:
		return protocol.StateClose, nil
	}
	return "", fmt.Errorf("engine: next state from %q: %w", current, ErrInvalidState)
}

package engine

import (
	"fmt"
	"maps"

	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// MissingPromptError is returned when a state has no prompt template.
type MissingPromptError struct {
	State protocol.CallState
}

func (e *MissingPromptError) Error() string {
	return fmt.Sprintf("no prompt defined for call state %s", e.State)
}

// DefaultPrompts are the built-in question texts. QUALIFY has none: it is
// resolved within the same turn and never spoken to the caller.
var DefaultPrompts = map[protocol.CallState]string{
	protocol.StateAskLanguage:      "Would you like to speak in English, Hindi, or Hinglish?",
	protocol.StateAskCityOrRegion:  "Which city are you in?",
	protocol.StateAskRegionConfirm: "Is your city in South India, Maharashtra, or Delhi/NCR?",
	protocol.StateAskTimeline:      "When are you planning to start?",
	protocol.StateAskBudget:        "A full kids room typically costs ₹6–₹9 lakhs. Does that work?",
	protocol.StateAskRoomSize:      "What is the room size?",
	protocol.StateAskEmail:         "Please share your email for consultation details.",
	protocol.StateClose:            "Thanks! You’ll receive the details shortly.",
}

// Renderer looks up the prompt for a state.
type Renderer struct {
	prompts map[protocol.CallState]string
}

// NewRenderer returns a renderer over DefaultPrompts with overrides applied on top.
// An override with an empty text removes the prompt.
func NewRenderer(overrides map[protocol.CallState]string) *Renderer {
	prompts := maps.Clone(DefaultPrompts)
	for st, text := range overrides {
		if text == "" {
			delete(prompts, st)
			continue
		}
		prompts[st] = text
	}
	return &Renderer{prompts: prompts}
}

// Render returns the prompt text for state or a *MissingPromptError.
func (r *Renderer) Render(state protocol.CallState) (string, error) {
	text, ok := r.prompts[state]
	if !ok {
		return "", &MissingPromptError{State: state}
	}
	return text, nil
}

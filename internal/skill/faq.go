package skill

import "github.com/mn-ai/mnvoice/internal/engine"

// FAQ answers knowledge-base questions without touching conversation state.
type FAQ struct {
	Router *engine.Router
}

// Answer returns the canned answer for text, if any.
func (f *FAQ) Answer(text string) (string, bool) {
	if f == nil {
		return "", false
	}
	return f.Router.Route(text)
}

// Package knowledge loads the FAQ knowledge base and prompt overrides from YAML.
package knowledge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mn-ai/mnvoice/internal/engine"
	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// Base is a loaded knowledge file.
type Base struct {
	// FAQ keeps the file's declaration order; routing is first-match.
	FAQ     []engine.FAQEntry
	Prompts map[protocol.CallState]string
}

// Default is used when no knowledge file exists.
func Default() *Base {
	return &Base{
		FAQ: []engine.FAQEntry{{
			Keyword: "process",
			Answer:  "Our process includes a design consultation, 3D designs, and turnkey execution.",
		}},
		Prompts: map[protocol.CallState]string{},
	}
}

// Empty is a knowledge base with no entries. Its router never matches.
func Empty() *Base {
	return &Base{Prompts: map[protocol.CallState]string{}}
}

type document struct {
	FAQ     yaml.Node         `yaml:"faq"`
	Prompts map[string]string `yaml:"prompts"`
}

// Load reads path. A missing file yields Default.
func Load(path string) (*Base, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge: read %s: %w", path, err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("knowledge: %s: %w", path, err)
	}
	return b, nil
}

// Parse decodes a knowledge document:
//
//	faq:
//	  process: "Our process includes ..."
//	  price: "Rooms start at ..."
//	prompts:
//	  ASK_LANGUAGE: "Namaste! ..."
func Parse(data []byte) (*Base, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	b := Empty()
	if doc.FAQ.Kind != 0 {
		if doc.FAQ.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("faq: line %d: expected a mapping of keyword to answer", doc.FAQ.Line)
		}
		for i := 0; i+1 < len(doc.FAQ.Content); i += 2 {
			key, val := doc.FAQ.Content[i], doc.FAQ.Content[i+1]
			var answer string
			if err := val.Decode(&answer); err != nil {
				return nil, fmt.Errorf("faq %q: line %d: %w", key.Value, val.Line, err)
			}
			b.FAQ = append(b.FAQ, engine.FAQEntry{Keyword: key.Value, Answer: answer})
		}
	}

	for name, text := range doc.Prompts {
		st := protocol.CallState(name)
		if !st.Valid() {
			return nil, fmt.Errorf("prompts: unknown call state %q", name)
		}
		b.Prompts[st] = text
	}
	return b, nil
}

// Router builds the FAQ router for this base.
func (b *Base) Router() *engine.Router {
	return engine.NewRouter(b.FAQ)
}

// Renderer builds the prompt renderer with this base's overrides.
func (b *Base) Renderer() *engine.Renderer {
	return engine.NewRenderer(b.Prompts)
}

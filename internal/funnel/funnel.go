// Package funnel reports how many calls reached each conversation step.
package funnel

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// Counter is the storage the funnel reads from.
type Counter interface {
	FunnelCounts(ctx context.Context) (map[protocol.CallState]int, error)
}

// Order is the conversation order of the reported steps. QUALIFY is
// decided within a turn and never rests, so it is not a step.
var Order = []protocol.CallState{
	protocol.StateAskLanguage,
	protocol.StateAskCityOrRegion,
	protocol.StateAskRegionConfirm,
	protocol.StateAskBudget,
	protocol.StateAskTimeline,
	protocol.StateAskRoomSize,
	protocol.StateAskEmail,
	protocol.StateClose,
}

// Step is one funnel bar.
type Step struct {
	State protocol.CallState `json:"state"`
	Label string             `json:"label"`
	Calls int                `json:"calls"`
}

// Funnel builds reports from reach counts.
type Funnel struct {
	counter Counter
}

func New(c Counter) *Funnel {
	return &Funnel{counter: c}
}

// Steps returns the reach count of every step in conversation order.
func (f *Funnel) Steps(ctx context.Context) ([]Step, error) {
	counts, err := f.counter.FunnelCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("funnel: %w", err)
	}
	steps := make([]Step, len(Order))
	for i, st := range Order {
		steps[i] = Step{State: st, Label: Label(st), Calls: counts[st]}
	}
	return steps, nil
}

// Chart renders the steps as a text bar chart with conversion rates
// against the first step and the previous one.
func Chart(steps []Step) string {
	var base int
	if len(steps) > 0 {
		base = steps[0].Calls
	}
	if base == 0 {
		for _, s := range steps {
			base = max(base, s.Calls)
		}
	}
	if base == 0 {
		return "No funnel data yet"
	}

	var b strings.Builder
	b.WriteString("Funnel by step:\n")
	prev := 0
	for i, s := range steps {
		relPrev := 100
		if i > 0 {
			relPrev = percent(s.Calls, prev)
		}
		fmt.Fprintf(&b, "- %-16s %4d | %3d%% of start | %3d%% of prev %s\n",
			s.Label+":", s.Calls, percent(s.Calls, base), relPrev, bar20(s.Calls, base))
		prev = s.Calls
	}
	return b.String()
}

// PNG renders the steps as a bar chart image.
func PNG(steps []Step) ([]byte, error) {
	bars := make([]chart.Value, 0, len(steps))
	maxVal := 0
	for _, s := range steps {
		maxVal = max(maxVal, s.Calls)
		bars = append(bars, chart.Value{Value: float64(s.Calls), Label: s.Label})
	}
	// A zero range makes the renderer fail.
	yMax := float64(maxVal)
	if yMax <= 0 {
		yMax = 1
	}
	graph := chart.BarChart{
		Title:    "Lead funnel",
		Width:    1100,
		Height:   600,
		BarWidth: 56,
		Background: chart.Style{Padding: chart.Box{
			Top:    50,
			Left:   16,
			Right:  16,
			Bottom: 0,
		}},
		YAxis: chart.YAxis{Range: &chart.ContinuousRange{Min: 0, Max: yMax}},
		Bars:  bars,
	}
	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("funnel: render png: %w", err)
	}
	return buf.Bytes(), nil
}

// Label is the short display name of a step.
func Label(s protocol.CallState) string {
	switch s {
	case protocol.StateAskLanguage:
		return "Language"
	case protocol.StateAskCityOrRegion:
		return "City"
	case protocol.StateAskRegionConfirm:
		return "Region"
	case protocol.StateAskBudget:
		return "Budget"
	case protocol.StateAskTimeline:
		return "Timeline"
	case protocol.StateAskRoomSize:
		return "Room size"
	case protocol.StateAskEmail:
		return "Email"
	case protocol.StateClose:
		return "Closed"
	default:
		return string(s)
	}
}

func percent(a, b int) int {
	if b <= 0 {
		return 0
	}
	return 100 * a / b
}

func bar20(val, total int) string {
	if total <= 0 {
		return ""
	}
	filled := min(max(20*val/total, 0), 20)
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", 20-filled) + "]"
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/store"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	statusStyles = map[store.Status]lipgloss.Style{
		store.StatusActive:     lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		store.StatusSuspended:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		store.StatusTerminated: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
)

func status(s store.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

func field(label string, value any) string {
	return fmt.Sprintf("%s %v", labelStyle.Render(label+":"), value)
}

// renderResult prints the outcome of an Invoke or Resume call. keys selects
// the state fields worth showing; all fields are shown when it is empty.
func renderResult(w io.Writer, res *graph.Result, keys ...string) {
	lines := []string{
		titleStyle.Render("run " + res.RunID),
		field("status", status(res.Status)),
	}
	if len(res.Steps) > 0 {
		lines = append(lines, field("steps", strings.Join(res.Steps, " → ")))
	}
	if res.Interrupt != nil {
		lines = append(lines,
			field("waiting at", res.Interrupt.Step),
			field("requires", strings.Join(res.Interrupt.Required, ", ")),
			field("payload", toJSON(res.Interrupt.Payload)))
	}
	lines = append(lines, renderState(res.State, keys...)...)
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

func renderSnapshot(w io.Writer, snap *store.Snapshot) {
	lines := []string{
		titleStyle.Render("run " + snap.RunID),
		field("status", status(snap.Status)),
		field("current step", snap.CurrentStep),
		field("steps taken", snap.StepCount),
		field("version", snap.Version),
		field("updated", snap.UpdatedAt.Format("2006-01-02 15:04:05")),
	}
	if snap.Cancelled {
		lines = append(lines, field("cancelled", true))
	}
	if snap.LastError != "" {
		lines = append(lines, field("last error", errorStyle.Render(snap.LastError)))
	}
	if snap.Pending != nil {
		lines = append(lines,
			field("waiting at", snap.Pending.Step),
			field("payload", toJSON(snap.Pending.Payload)))
	}
	lines = append(lines, renderState(snap.State)...)
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

func renderState(state map[string]any, keys ...string) []string {
	if len(keys) == 0 {
		keys = slices.Sorted(maps.Keys(state))
	}
	var lines []string
	for _, k := range keys {
		v, ok := state[k]
		if !ok {
			continue
		}
		switch v := v.(type) {
		case string:
			lines = append(lines, field(k, v))
		default:
			lines = append(lines, field(k, toJSON(v)))
		}
	}
	return lines
}

func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// streamTo prints step events as they arrive until the hook is closed.
func streamTo(w io.Writer, hook *graph.StreamHook) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range hook.Events() {
			switch ev.Event {
			case graph.TraceEventNodeEnd:
				fmt.Fprintf(w, "%s %s\n", labelStyle.Render("✓"), ev.Step)
			case graph.TraceEventNodeError:
				fmt.Fprintf(w, "%s %s: %v\n", errorStyle.Render("✗"), ev.Step, ev.Error)
			case graph.TraceEventInterrupt:
				fmt.Fprintf(w, "%s %s\n", statusStyles[store.StatusSuspended].Render("⏸"), ev.Step)
			}
		}
	}()
	return done
}

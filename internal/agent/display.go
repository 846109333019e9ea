package agent

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/nidhogg/persona-sim/internal/schema"
)

const (
	displayWidth      = 100
	maxDisplayContent = 1024
)

// Communication is one rendered stimulus or action.
type Communication struct {
	Kind      string `json:"kind"`
	Rendering string `json:"rendering"`
	Source    string `json:"source"`
	Target    string `json:"target"`
}

// Display renders communications to a terminal with per-type styles and
// keeps every rendering for later inspection.
type Display struct {
	w  io.Writer
	r  *lipgloss.Renderer
	mu sync.Mutex

	buffer []Communication
}

// NewDisplay writes to w, adapting colors to what w supports.
func NewDisplay(w io.Writer) *Display {
	return &Display{w: w, r: lipgloss.NewRenderer(w)}
}

func (d *Display) stimulusStyle(typ string) lipgloss.Style {
	switch typ {
	case schema.StimulusConversation:
		return d.r.NewStyle().Bold(true).Italic(true).Foreground(lipgloss.Color("51"))
	case schema.StimulusThought:
		return d.r.NewStyle().Faint(true).Italic(true).Foreground(lipgloss.Color("51"))
	default:
		return d.r.NewStyle().Italic(true)
	}
}

func (d *Display) actionStyle(typ string) lipgloss.Style {
	switch typ {
	case schema.ActionDone:
		return d.r.NewStyle().Foreground(lipgloss.Color("252"))
	case schema.ActionTalk:
		return d.r.NewStyle().Bold(true).Foreground(lipgloss.Color("40"))
	case schema.ActionThink:
		return d.r.NewStyle().Foreground(lipgloss.Color("34"))
	default:
		return d.r.NewStyle().Foreground(lipgloss.Color("129"))
	}
}

// Stimuli renders a stimulus batch received by persona.
func (d *Display) Stimuli(persona string, batch schema.StimulusBatch) {
	lines := make([]string, 0, len(batch.Stimuli))
	source := ""
	for _, s := range batch.Stimuli {
		actor := s.Source
		if actor == "" {
			actor = "USER"
		}
		if source == "" {
			source = s.Source
		}
		style := d.stimulusStyle(s.Type)
		head := fmt.Sprintf("%s --> %s: [%s] ", style.Underline(true).Render(actor), style.Underline(true).Render(persona), s.Type)
		lines = append(lines, style.Render(head)+"\n"+renderLines(style, indentWrap(actor, s.Content)))
	}
	d.push(Communication{Kind: "stimuli", Rendering: strings.Join(lines, "\n"), Source: source, Target: persona})
}

// Action renders an action performed by persona.
func (d *Display) Action(persona string, a schema.CognitiveAction) {
	style := d.actionStyle(a.Action.Type)
	head := fmt.Sprintf("%s acts: [%s] ", style.Underline(true).Render(persona), a.Action.Type)
	rendering := style.Render(head) + "\n" + renderLines(style, indentWrap(persona, a.Action.Content))
	d.push(Communication{Kind: "action", Rendering: rendering, Source: persona, Target: a.Action.Target})
}

// Communications returns everything displayed so far.
func (d *Display) Communications() []Communication {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Communication(nil), d.buffer...)
}

func (d *Display) push(c Communication) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffer = append(d.buffer, c)
	fmt.Fprintln(d.w, c.Rendering)
}

// renderLines styles each line on its own so lipgloss does not pad them
// to a common width.
func renderLines(style lipgloss.Style, s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = style.Render(l)
	}
	return strings.Join(lines, "\n")
}

// indentWrap truncates content and wraps it to displayWidth columns, every
// line indented past the actor name.
func indentWrap(actor, content string) string {
	if r := []rune(content); len(r) > maxDisplayContent {
		content = string(r[:maxDisplayContent]) + " (...)"
	}
	indent := strings.Repeat(" ", len([]rune(actor))) + "      > "
	avail := displayWidth - len(indent)
	if avail < 10 {
		avail = 10
	}

	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(content) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > avail {
			lines = append(lines, indent+cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 || len(lines) == 0 {
		lines = append(lines, indent+cur.String())
	}
	return strings.Join(lines, "\n")
}

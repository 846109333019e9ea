package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/persona-sim/internal/gateway"
)

// ---------------------------------------------------------------------------
// Interfaces, kept here so builtin commands avoid importing concrete types.
// ---------------------------------------------------------------------------

// PersonaLister lists registered personas.
type PersonaLister interface {
	List() []PersonaInfo
}

// PersonaInfo describes a registered persona.
type PersonaInfo struct {
	ID         string
	Name       string
	Occupation string
	Status     string
}

// StatusProvider provides adapter connection status. *gateway.Gateway
// implements it.
type StatusProvider interface {
	StatusAll() []gateway.AdapterStatus
}

// ---------------------------------------------------------------------------
// RegisterBuiltins wires up the built-in slash commands.
// ---------------------------------------------------------------------------

// RegisterBuiltins registers /help, /personas and /status.
func RegisterBuiltins(reg *Registry, personas PersonaLister, status StatusProvider) {
	reg.Register(helpCommand(reg))
	reg.Register(personasCommand(personas))
	reg.Register(statusCommand(status))
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			cmds := reg.List()
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range cmds {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if len(c.Aliases) > 0 {
					fmt.Fprintf(&b, "    Aliases: /%s\n", strings.Join(c.Aliases, ", /"))
				}
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /personas
// ---------------------------------------------------------------------------

func personasCommand(lister PersonaLister) *Command {
	return &Command{
		Name:        "personas",
		Aliases:     []string{"who"},
		Description: "List the personas you can interview",
		Usage:       "/personas",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			personas := lister.List()
			if len(personas) == 0 {
				return &CommandResult{Content: "No personas registered."}, nil
			}
			var b strings.Builder
			b.WriteString("Registered personas:\n")
			for _, p := range personas {
				occupation := p.Occupation
				if occupation == "" {
					occupation = "unknown"
				}
				fmt.Fprintf(&b, "  [%s] %s, occupation: %s, status: %s\n",
					p.ID, p.Name, occupation, p.Status)
			}
			return &CommandResult{Content: b.String(), Data: personas}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /status
// ---------------------------------------------------------------------------

func statusCommand(provider StatusProvider) *Command {
	return &Command{
		Name:        "status",
		Description: "Show adapter connection status",
		Usage:       "/status",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			adapters := provider.StatusAll()
			if len(adapters) == 0 {
				return &CommandResult{Content: "No adapters configured."}, nil
			}
			var b strings.Builder
			b.WriteString("Adapter status:\n")
			for _, a := range adapters {
				state := "disconnected"
				if a.Connected {
					state = "connected"
				}
				fmt.Fprintf(&b, "  %s: %s", a.Platform, state)
				if a.Details != "" {
					fmt.Fprintf(&b, " (%s)", a.Details)
				}
				if a.Error != "" {
					fmt.Fprintf(&b, " error: %s", a.Error)
				}
				b.WriteByte('\n')
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PersonaAdmin creates personas and shows their profiles.
type PersonaAdmin interface {
	Create(profile map[string]any) (PersonaInfo, error)
	Profile(persona string) (map[string]any, error)
}

// RegisterPersonaCommands registers /create_persona and /persona.
func RegisterPersonaCommands(reg *Registry, admin PersonaAdmin) {
	reg.Register(createPersonaCommand(admin))
	reg.Register(personaCommand(admin))
}

// ---------------------------------------------------------------------------
// /create_persona <name> [key=value ...]
// ---------------------------------------------------------------------------

func createPersonaCommand(admin PersonaAdmin) *Command {
	return &Command{
		Name:        "create_persona",
		Description: "Create a persona from a name and profile attributes",
		Usage:       "/create_persona <name> [key=value ...]",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			args = strings.TrimSpace(args)
			if args == "" {
				return &CommandResult{Content: "Usage: /create_persona <name> [key=value ...]"}, nil
			}
			name, rest, _ := strings.Cut(args, " ")
			if strings.Contains(name, "=") {
				return &CommandResult{Content: "The first argument must be the persona's name."}, nil
			}
			profile := parseAttributes(rest)
			profile["name"] = name

			info, err := admin.Create(profile)
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Failed to create persona: %v", err)}, nil
			}
			return &CommandResult{
				Content: fmt.Sprintf("Persona created: [%s] %s (%d attributes)", info.ID, info.Name, len(profile)),
				Data:    map[string]string{"persona_id": info.ID, "name": info.Name},
			}, nil
		},
	}
}

// parseAttributes reads "key=value" pairs. A word without "=" continues
// the previous value, so "occupation=Software Engineer" keeps its space.
// Whole-number values become ints.
func parseAttributes(s string) map[string]any {
	raw := make(map[string]string)
	var order []string
	key := ""
	for _, word := range strings.Fields(s) {
		if k, v, ok := strings.Cut(word, "="); ok && k != "" {
			key = k
			if _, seen := raw[k]; !seen {
				order = append(order, k)
			}
			raw[k] = v
			continue
		}
		if key != "" {
			raw[key] += " " + word
		}
	}
	out := make(map[string]any, len(order))
	for _, k := range order {
		if n, err := strconv.Atoi(raw[k]); err == nil {
			out[k] = n
			continue
		}
		out[k] = raw[k]
	}
	return out
}

// ---------------------------------------------------------------------------
// /persona <name>
// ---------------------------------------------------------------------------

func personaCommand(admin PersonaAdmin) *Command {
	return &Command{
		Name:        "persona",
		Description: "Show a persona's profile",
		Usage:       "/persona <name>",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			name := strings.TrimSpace(args)
			if name == "" {
				return &CommandResult{Content: "Usage: /persona <name>"}, nil
			}
			profile, err := admin.Profile(name)
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Failed: %v", err)}, nil
			}
			data, err := json.MarshalIndent(profile, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("encode profile: %w", err)
			}
			return &CommandResult{Content: string(data), Data: profile}, nil
		},
	}
}

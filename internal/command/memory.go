package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// defaultMemoryWindow is how many recent events /memory shows.
const defaultMemoryWindow = 10

// MemoryInspector reads and steers a persona's memory.
type MemoryInspector interface {
	SetContext(ctx context.Context, persona, situation string) error
	Recent(ctx context.Context, persona string, n int) ([]string, error)
	Recall(ctx context.Context, persona, query string) (string, error)
}

// RegisterMemoryCommands registers /context, /memory and /recall.
func RegisterMemoryCommands(reg *Registry, m MemoryInspector) {
	reg.Register(contextCommand(m))
	reg.Register(memoryCommand(m))
	reg.Register(recallCommand(m))
}

func contextCommand(m MemoryInspector) *Command {
	return &Command{
		Name:        "context",
		Description: "Set the situation a persona is in",
		Usage:       "/context <persona> <situation>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
			if len(parts) < 2 {
				return &CommandResult{Content: "Usage: /context <persona> <situation>"}, nil
			}
			if err := m.SetContext(ctx, parts[0], parts[1]); err != nil {
				return &CommandResult{Content: fmt.Sprintf("Failed: %v", err)}, nil
			}
			return &CommandResult{Content: fmt.Sprintf("Context updated for %s.", parts[0])}, nil
		},
	}
}

func memoryCommand(m MemoryInspector) *Command {
	return &Command{
		Name:        "memory",
		Aliases:     []string{"mem"},
		Description: "Show a persona's most recent episodic memories",
		Usage:       "/memory <persona> [count]",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			parts := strings.Fields(args)
			if len(parts) == 0 || len(parts) > 2 {
				return &CommandResult{Content: "Usage: /memory <persona> [count]"}, nil
			}
			n := defaultMemoryWindow
			if len(parts) == 2 {
				v, err := strconv.Atoi(parts[1])
				if err != nil || v <= 0 {
					return &CommandResult{Content: "Count must be a positive number."}, nil
				}
				n = v
			}
			events, err := m.Recent(ctx, parts[0], n)
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Failed: %v", err)}, nil
			}
			if len(events) == 0 {
				return &CommandResult{Content: fmt.Sprintf("%s remembers nothing yet.", parts[0])}, nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Last %d memories of %s:\n", len(events), parts[0])
			for i, e := range events {
				fmt.Fprintf(&b, "  %d. %s\n", i+1, e)
			}
			return &CommandResult{Content: b.String(), Data: events}, nil
		},
	}
}

func recallCommand(m MemoryInspector) *Command {
	return &Command{
		Name:        "recall",
		Description: "Query a persona's semantic memory",
		Usage:       "/recall <persona> <query>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
			if len(parts) < 2 {
				return &CommandResult{Content: "Usage: /recall <persona> <query>"}, nil
			}
			result, err := m.Recall(ctx, parts[0], parts[1])
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Failed: %v", err)}, nil
			}
			if result == "" {
				return &CommandResult{Content: "No memories found."}, nil
			}
			return &CommandResult{Content: result}, nil
		},
	}
}

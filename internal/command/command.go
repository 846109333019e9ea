// Package command implements the slash commands interviewers use to manage
// personas from chat.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Command is one slash command. Names and aliases match case-insensitively.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handler     CommandHandler
}

// CommandHandler runs a command. args is everything after the command name,
// trimmed.
type CommandHandler func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error)

// CommandContext describes where a command was issued.
type CommandContext struct {
	Platform  string
	ChannelID string
	UserID    string
	UserName  string
}

// CommandResult is the reply to a command. Data carries a structured form
// of Content for API callers.
type CommandResult struct {
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}

// Registry maps command names and aliases to commands.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	aliases  map[string]string
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
	}
}

// Register adds cmd, replacing any command with the same name.
func (r *Registry) Register(cmd *Command) {
	name := strings.ToLower(cmd.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = cmd
	for _, a := range cmd.Aliases {
		r.aliases[strings.ToLower(a)] = name
	}
}

// IsCommand reports whether input is shaped like a slash command.
func IsCommand(input string) bool {
	s := strings.TrimSpace(input)
	return len(s) > 1 && s[0] == '/' && s[1] != ' ' && s[1] != '/'
}

// parse splits "/name args" into the lowercased name and the trimmed args.
// A "@bot" suffix on the name, as some platforms add, is dropped.
func parse(input string) (name, args string) {
	s := strings.TrimPrefix(strings.TrimSpace(input), "/")
	if i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' }); i >= 0 {
		name, args = s[:i], strings.TrimSpace(s[i+1:])
	} else {
		name = s
	}
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	return strings.ToLower(name), args
}

func (r *Registry) lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Dispatch parses a slash command and runs its handler. Unknown commands
// and commands without a handler get a reply, not an error.
func (r *Registry) Dispatch(ctx context.Context, input string, cc *CommandContext) (*CommandResult, error) {
	name, args := parse(input)
	cmd, ok := r.lookup(name)
	if !ok {
		return &CommandResult{
			Content: fmt.Sprintf("Unknown command: /%s. Type /help for available commands.", name),
		}, nil
	}
	if cmd.Handler == nil {
		return &CommandResult{Content: fmt.Sprintf("/%s is not available.", cmd.Name)}, nil
	}
	return cmd.Handler(ctx, args, cc)
}

// List returns the registered commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

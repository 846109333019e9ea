// Package router turns chat messages into persona interviews.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/persona-sim/internal/agent"
	"github.com/nidhogg/persona-sim/internal/command"
	"github.com/nidhogg/persona-sim/internal/gateway"
	"go.uber.org/zap"
)

// everyone is the mention that interviews every registered persona.
const everyone = "@all"

// DefaultTimeout bounds one routed interview.
const DefaultTimeout = 5 * time.Minute

// Sender delivers replies. *gateway.Gateway implements it.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// SnapshotSaver persists a persona's episodic log after an interview.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, persona, runID string, events []byte) error
}

// MessageRouter routes inbound messages to the persona they address.
type MessageRouter struct {
	registry  *agent.Registry
	gw        Sender
	snapshots SnapshotSaver
	commands  *command.Registry
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a new MessageRouter. snapshots may be nil.
func New(registry *agent.Registry, gw Sender, snapshots SnapshotSaver,
	commands *command.Registry, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		registry:  registry,
		gw:        gw,
		snapshots: snapshots,
		commands:  commands,
		timeout:   DefaultTimeout,
		logger:    logger,
	}
}

// Handle routes an inbound message to the addressed persona.
// Signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), mr.timeout)
	defer cancel()
	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
	)

	// Slash commands never reach a persona.
	if command.IsCommand(msg.Content) {
		if mr.commands == nil {
			mr.sendReply(ctx, msg, nil, "Commands are not available here.")
			return
		}
		cc := &command.CommandContext{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
		}
		result, err := mr.commands.Dispatch(ctx, msg.Content, cc)
		if err != nil {
			mr.logger.Error("command dispatch error", zap.Error(err))
			mr.sendReply(ctx, msg, nil, "Command error: "+err.Error())
			return
		}
		mr.sendReply(ctx, msg, nil, result.Content)
		return
	}

	if strings.Contains(msg.Content, everyone) {
		clean := strings.TrimSpace(strings.Replace(msg.Content, everyone, "", 1))
		mr.sendReply(ctx, msg, nil, mr.interviewAll(ctx, clean))
		return
	}

	entry, clean := mr.resolvePersona(msg.Content)
	if entry == nil {
		mr.sendReply(ctx, msg, nil, "No persona matched. Mention a persona with @Name.")
		return
	}

	reply, err := mr.interview(ctx, entry, clean)
	if err != nil {
		mr.logger.Error("interview failed", zap.String("persona", entry.Person.Name()), zap.Error(err))
		mr.sendReply(ctx, msg, entry, fmt.Sprintf("%s could not answer: %s", entry.Person.Name(), err.Error()))
		return
	}
	mr.sendReply(ctx, msg, entry, reply)
}

// resolvePersona parses @Name from message content. Longer names are tried
// first so "@Ann Marie" wins over "@Ann". With no mention and a single
// persona registered, that persona answers.
func (mr *MessageRouter) resolvePersona(content string) (*agent.Entry, string) {
	entries := mr.registry.List()
	byLength := append([]*agent.Entry(nil), entries...)
	sort.SliceStable(byLength, func(i, j int) bool {
		return len(byLength[i].Person.Name()) > len(byLength[j].Person.Name())
	})
	lower := strings.ToLower(content)
	for _, e := range byLength {
		mention := "@" + strings.ToLower(e.Person.Name())
		if i := strings.Index(lower, mention); i >= 0 {
			clean := content[:i] + content[i+len(mention):]
			return e, strings.TrimSpace(clean)
		}
	}
	if len(entries) == 1 {
		return entries[0], content
	}
	return nil, content
}

// interview runs one persona on message and returns what it said.
func (mr *MessageRouter) interview(ctx context.Context, e *agent.Entry, message string) (string, error) {
	trace, err := mr.registry.ListenAndAct(ctx, e.ID, message)
	if err != nil {
		return "", err
	}
	mr.saveSnapshot(ctx, e)
	talk := trace.Talk()
	if talk == "" {
		return fmt.Sprintf("(%s stays silent.)", e.Person.Name()), nil
	}
	return talk, nil
}

// interviewAll asks every persona in turn and formats the answers as a
// quoted transcript.
func (mr *MessageRouter) interviewAll(ctx context.Context, message string) string {
	entries := mr.registry.List()
	if len(entries) == 0 {
		return "No personas registered."
	}
	var buf strings.Builder
	for _, e := range entries {
		reply, err := mr.interview(ctx, e, message)
		if err != nil {
			mr.logger.Error("interview failed", zap.String("persona", e.Person.Name()), zap.Error(err))
			reply = "(error: " + err.Error() + ")"
		}
		fmt.Fprintf(&buf, "> *%s*: %s\n", e.Person.Name(), reply)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func (mr *MessageRouter) saveSnapshot(ctx context.Context, e *agent.Entry) {
	if mr.snapshots == nil {
		return
	}
	data, err := e.Person.Episodic().Snapshot()
	if err == nil {
		err = mr.snapshots.SaveSnapshot(ctx, e.Person.Name(), "", data)
	}
	if err != nil {
		mr.logger.Warn("save snapshot failed", zap.String("persona", e.Person.Name()), zap.Error(err))
	}
}

// sendReply sends text back to the originating platform and channel. e is
// the persona speaking, or nil for system replies.
func (mr *MessageRouter) sendReply(ctx context.Context, orig *gateway.InboundMessage, e *agent.Entry, text string) {
	out := &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	}
	if e != nil {
		out.PersonaID = e.ID
		out.PersonaName = e.Person.Name()
	}
	if err := mr.gw.Send(ctx, out); err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}

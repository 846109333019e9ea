package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeAdapter struct {
	platform   string
	mu         sync.Mutex
	handler    MessageHandler
	sent       []*OutboundMessage
	broadcasts []*BroadcastMessage
}

func (f *fakeAdapter) Platform() string              { return f.platform }
func (f *fakeAdapter) Connect(context.Context) error { return nil }
func (f *fakeAdapter) OnMessage(h MessageHandler)    { f.handler = h }
func (f *fakeAdapter) Close() error                  { return nil }
func (f *fakeAdapter) Send(_ context.Context, m *OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}
func (f *fakeAdapter) Broadcast(_ context.Context, m *BroadcastMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, m)
	return nil
}

type reportingAdapter struct {
	fakeAdapter
}

func (r *reportingAdapter) Status() AdapterStatus {
	return AdapterStatus{Platform: r.platform, Connected: false, Error: "token revoked"}
}

func TestGatewayRoutesInbound(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	a := &fakeAdapter{platform: "discord"}
	gw.Register(a)

	var got *InboundMessage
	gw.SetHandler(func(m *InboundMessage) { got = m })
	a.handler(&InboundMessage{Platform: "discord", Content: "hi"})
	if got == nil || got.Content != "hi" {
		t.Fatalf("handler got %+v", got)
	}

	if err := gw.Send(context.Background(), &OutboundMessage{Platform: "discord", Content: "yo"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(a.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(a.sent))
	}
	if err := gw.Send(context.Background(), &OutboundMessage{Platform: "irc"}); err == nil {
		t.Error("expected error for unknown platform")
	}
}

type flakyAdapter struct {
	fakeAdapter
	connected bool
	closed    int
}

func (f *flakyAdapter) Connect(context.Context) error {
	if f.platform == "slack" {
		return errors.New("invalid_auth")
	}
	f.connected = true
	return nil
}

func (f *flakyAdapter) Close() error {
	f.closed++
	return nil
}

func TestGatewayConnectAllKeepsGoing(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	discord := &flakyAdapter{fakeAdapter: fakeAdapter{platform: "discord"}}
	slack := &flakyAdapter{fakeAdapter: fakeAdapter{platform: "slack"}}
	zulip := &flakyAdapter{fakeAdapter: fakeAdapter{platform: "zulip"}}
	gw.Register(discord)
	gw.Register(slack)
	gw.Register(zulip)

	err := gw.ConnectAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connect slack: invalid_auth") {
		t.Fatalf("err = %v", err)
	}
	if !discord.connected || !zulip.connected {
		t.Error("healthy adapters should still connect")
	}

	replacement := &flakyAdapter{fakeAdapter: fakeAdapter{platform: "discord"}}
	gw.Register(replacement)
	if discord.closed != 1 {
		t.Errorf("replaced adapter closed %d times, want 1", discord.closed)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if replacement.closed != 1 || discord.closed != 1 {
		t.Errorf("closed = %d/%d", replacement.closed, discord.closed)
	}
}

func TestGatewayStatusAll(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	gw.Register(&fakeAdapter{platform: "rest"})
	gw.Register(&reportingAdapter{fakeAdapter{platform: "discord"}})

	statuses := gw.StatusAll()
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses", len(statuses))
	}
	if statuses[0].Platform != "discord" || statuses[0].Connected || statuses[0].Error != "token revoked" {
		t.Errorf("discord status = %+v", statuses[0])
	}
	if statuses[1].Platform != "rest" || !statuses[1].Connected {
		t.Errorf("rest status = %+v", statuses[1])
	}
	if names := gw.Adapters(); names[0] != "discord" || names[1] != "rest" {
		t.Errorf("adapters = %v", names)
	}
}

func TestBroadcasterPublishesRunBoundaries(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	a := &fakeAdapter{platform: "slack"}
	gw.Register(a)
	b := NewBroadcaster(gw, zap.NewNop())
	ctx := context.Background()

	if err := b.PublishPayload(ctx, "run-1", "run_started", "", map[string]any{"personas": 3, "project": "ads"}); err != nil {
		t.Fatal(err)
	}
	if err := b.PublishPayload(ctx, "run-1", "persona_acted", "Joe", nil); err != nil {
		t.Fatal(err)
	}
	if err := b.PublishPayload(ctx, "run-1", "run_finished", "", map[string]int{"responses": 3}); err != nil {
		t.Fatal(err)
	}

	if len(a.broadcasts) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(a.broadcasts))
	}
	if got := a.broadcasts[0].Content; got != "run run-1 personas=3 project=ads" {
		t.Errorf("content = %q", got)
	}
	if a.broadcasts[1].Title != "Simulation finished" {
		t.Errorf("title = %q", a.broadcasts[1].Title)
	}
	hist := b.History(1)
	if len(hist) != 1 || hist[0].Message.Type != BroadcastRunFinished || hist[0].Targets[0] != "slack" {
		t.Errorf("history = %+v", hist)
	}
	if err := b.Send(ctx, &BroadcastMessage{}); err == nil {
		t.Error("expected error for untyped broadcast")
	}
}

func TestRESTAdapterRoundTrip(t *testing.T) {
	a := NewRESTAdapter(time.Second, zap.NewNop())
	a.OnMessage(func(m *InboundMessage) {
		a.Send(context.Background(), &OutboundMessage{
			Platform:  "rest",
			ChannelID: m.ChannelID,
			PersonaID: "joe",
			Content:   "echo: " + m.Content,
		})
	})
	srv := httptest.NewServer(a.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/message", "application/json",
		bytes.NewBufferString(`{"user_id":"u1","content":"which ad?"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out OutboundMessage
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Content != "echo: which ad?" || out.PersonaID != "joe" {
		t.Errorf("reply = %+v", out)
	}
}

func TestRESTAdapterValidationAndTimeout(t *testing.T) {
	a := NewRESTAdapter(20*time.Millisecond, zap.NewNop())
	srv := httptest.NewServer(a.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader(`{"content":""}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty content status = %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/message", "application/json", strings.NewReader(`{"content":"hello?"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("unanswered status = %d, want 504", resp.StatusCode)
	}

	if err := a.Send(context.Background(), &OutboundMessage{ChannelID: "gone"}); err == nil {
		t.Error("expected error for inactive channel")
	}
}

func TestSendDressesPersona(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	a := &fakeAdapter{platform: "slack"}
	gw.Register(a)
	gw.SetAvatarBase("https://avatars.example/png?seed=")

	err := gw.Send(context.Background(), &OutboundMessage{Platform: "slack", PersonaName: "Ana María", Content: "hola"})
	if err != nil {
		t.Fatal(err)
	}
	p := a.sent[0].Persona
	if p == nil || p.Name != "Ana María" || p.IconURL != "https://avatars.example/png?seed=Ana+Mar%C3%ADa" {
		t.Fatalf("persona = %+v", p)
	}
	if again := NewDisplayPersona("Ana María", ""); again.Emoji != p.Emoji || again.IconURL != "" {
		t.Errorf("display should be stable: %+v vs %+v", again, p)
	}

	gw.Send(context.Background(), &OutboundMessage{Platform: "slack", Content: "system"})
	if a.sent[1].Persona != nil {
		t.Errorf("system reply got persona %+v", a.sent[1].Persona)
	}
}

func TestShouldRoute(t *testing.T) {
	tests := []struct {
		content string
		direct  bool
		want    bool
	}{
		{"hello", true, true},
		{"hello", false, false},
		{"@Joe which ad?", false, true},
		{"/personas", false, true},
		{"", true, false},
	}
	for _, tt := range tests {
		if got := shouldRoute(tt.content, tt.direct); got != tt.want {
			t.Errorf("shouldRoute(%q, %v) = %v, want %v", tt.content, tt.direct, got, tt.want)
		}
	}
	if got := stripDiscordMention("<@123> @Joe hi <@!123>", "123"); got != "@Joe hi" {
		t.Errorf("stripDiscordMention = %q", got)
	}
	if got := stripSlackMention("<@U1> @all ads?", "U1"); got != "@all ads?" {
		t.Errorf("stripSlackMention = %q", got)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("short = %q", got)
	}
	got := splitMessage("alpha beta gamma\ndelta epsilon", 12)
	want := []string{"alpha beta", "gamma", "delta", "epsilon"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("split = %q, want %q", got, want)
	}
	for _, part := range splitMessage(strings.Repeat("é", 25), 10) {
		if len([]rune(part)) > 10 {
			t.Errorf("part too long: %d runes", len([]rune(part)))
		}
	}
}

func TestParseWebhookURL(t *testing.T) {
	id, token, ok := parseWebhookURL("https://discord.com/api/webhooks/42/abc-def/")
	if !ok || id != "42" || token != "abc-def" {
		t.Errorf("got %q %q %v", id, token, ok)
	}
	if _, _, ok := parseWebhookURL("https://discord.com/api/channels/42"); ok {
		t.Error("expected failure for non-webhook url")
	}
}

func TestRESTAdapterPersonaAndBroadcasts(t *testing.T) {
	a := NewRESTAdapter(time.Second, zap.NewNop())
	var got string
	a.OnMessage(func(m *InboundMessage) {
		got = m.Content
		a.Send(context.Background(), &OutboundMessage{ChannelID: m.ChannelID, Content: "ok"})
	})
	srv := httptest.NewServer(a.Routes())
	defer srv.Close()

	for _, body := range []string{
		`{"content":"which ad?","persona":"Joe"}`,
		`{"content":"@joe which ad?","persona":"Joe"}`,
	} {
		resp, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if !strings.HasPrefix(strings.ToLower(got), "@joe which ad?") {
			t.Errorf("%s routed as %q", body, got)
		}
	}

	for i := 0; i < maxRESTBroadcasts+5; i++ {
		a.Broadcast(context.Background(), &BroadcastMessage{Type: BroadcastAnnouncement, Title: "t", Content: strconv.Itoa(i)})
	}
	resp, err := http.Get(srv.URL + "/broadcasts")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var recent []BroadcastMessage
	json.NewDecoder(resp.Body).Decode(&recent)
	if len(recent) != maxRESTBroadcasts {
		t.Fatalf("recent = %d, want %d", len(recent), maxRESTBroadcasts)
	}
	if recent[0].Content != "5" {
		t.Errorf("oldest kept = %q, want 5", recent[0].Content)
	}
}

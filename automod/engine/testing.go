package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ro-community/robot/automod/window"
)

// Records every platform call. Intentionally exported, for use in other packages' tests.
type MockPlatform struct {
	lk    sync.Mutex
	Calls []MockCall
	// calls for these actions return an error (the call is still recorded)
	FailActions map[ActionKind]bool
}

type MockCall struct {
	Action    ActionKind
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	RoleID    string
	Days      int
	Text      string
}

var _ Platform = (*MockPlatform)(nil)

func (p *MockPlatform) record(c MockCall) error {
	p.lk.Lock()
	defer p.lk.Unlock()
	p.Calls = append(p.Calls, c)
	if p.FailActions[c.Action] {
		return fmt.Errorf("simulated %s failure", c.Action)
	}
	return nil
}

func (p *MockPlatform) GrantRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return p.record(MockCall{Action: ActionQuarantine, GuildID: guildID, UserID: userID, RoleID: roleID})
}

func (p *MockPlatform) DeleteMessage(ctx context.Context, channelID, messageID, reason string) error {
	return p.record(MockCall{Action: ActionDeleteMessages, ChannelID: channelID, MessageID: messageID})
}

func (p *MockPlatform) BanUser(ctx context.Context, guildID, userID string, deleteMessageDays int, reason string) error {
	return p.record(MockCall{Action: ActionBan, GuildID: guildID, UserID: userID, Days: deleteMessageDays})
}

func (p *MockPlatform) SendDirectNotification(ctx context.Context, recipientID, text string) error {
	return p.record(MockCall{Action: ActionNotifyAdmin, UserID: recipientID, Text: text})
}

// Returns a copy of the recorded calls for the given action.
func (p *MockPlatform) CallsFor(action ActionKind) []MockCall {
	p.lk.Lock()
	defer p.lk.Unlock()
	out := []MockCall{}
	for _, c := range p.Calls {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

func (p *MockPlatform) Reset() {
	p.lk.Lock()
	defer p.lk.Unlock()
	p.Calls = nil
}

// Manually advanced clock for tests.
type TestClock struct {
	lk  sync.Mutex
	Now time.Time
}

func (c *TestClock) Get() time.Time {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.Now
}

func (c *TestClock) Set(t time.Time) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.Now = t
}

func (c *TestClock) Advance(d time.Duration) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.Now = c.Now.Add(d)
}

// Engine wired to an in-memory window, a MockPlatform, and a TestClock, using the default (quarantine) policy.
func EngineTestFixture() (*Engine, *MockPlatform, *TestClock) {
	policy := DefaultPolicy()
	policy.QuarantineRoleID = "role-quarantine"
	policy.AdminUserID = "admin1"
	return EngineTestFixtureWithPolicy(policy)
}

func EngineTestFixtureWithPolicy(policy Policy) (*Engine, *MockPlatform, *TestClock) {
	platform := &MockPlatform{FailActions: map[ActionKind]bool{}}
	clock := &TestClock{Now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	disp := NewDispatcher(DispatcherConfig{
		Logger:        slog.Default(),
		Platform:      platform,
		Policy:        policy,
		ActionTimeout: time.Second,
		Workers:       2,
		QueueSize:     100,
	})
	eng := &Engine{
		Logger:      slog.Default(),
		Window:      window.NewMemStore(policy.Retention),
		Policy:      policy,
		Dispatcher:  disp,
		LockTimeout: time.Second,
		Clock:       clock.Get,
	}
	return eng, platform, clock
}

package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ro-community/robot/automod/actionstore"
	"github.com/ro-community/robot/automod/event"
	"github.com/ro-community/robot/automod/window"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spamEvent(id, channel string) *event.MessageEvent {
	return &event.MessageEvent{
		MessageID:  id,
		GuildID:    "g1",
		ChannelID:  channel,
		AuthorID:   "U",
		AuthorName: "spammer",
		Content:    "spam",
	}
}

func TestEngineQuarantineScenario(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, platform, clock := EngineTestFixture()
	defer eng.Dispatcher.Shutdown()

	d, err := eng.ProcessMessage(ctx, spamEvent("mA", "A"))
	require.NoError(err)
	assert.Equal(1, d.Count)
	assert.False(d.Triggered())

	clock.Advance(10 * time.Second)
	d, err = eng.ProcessMessage(ctx, spamEvent("mB", "B"))
	require.NoError(err)
	assert.Equal(2, d.Count)
	assert.False(d.Triggered())

	clock.Advance(10 * time.Second)
	d, err = eng.ProcessMessage(ctx, spamEvent("mC", "C"))
	require.NoError(err)
	assert.Equal(3, d.Count)
	assert.True(d.Triggered())
	eng.Dispatcher.Wait()

	grants := platform.CallsFor(ActionQuarantine)
	if assert.Equal(1, len(grants)) {
		assert.Equal("g1", grants[0].GuildID)
		assert.Equal("U", grants[0].UserID)
		assert.Equal("role-quarantine", grants[0].RoleID)
	}
	deletes := platform.CallsFor(ActionDeleteMessages)
	deleted := []string{}
	for _, c := range deletes {
		deleted = append(deleted, c.ChannelID+"/"+c.MessageID)
	}
	assert.ElementsMatch([]string{"A/mA", "B/mB", "C/mC"}, deleted)
	notes := platform.CallsFor(ActionNotifyAdmin)
	if assert.Equal(1, len(notes)) {
		assert.Equal("admin1", notes[0].UserID)
		assert.Contains(notes[0].Text, "spammer")
		assert.Contains(notes[0].Text, "3 channels")
	}

	// no suppression by default: the next cross-channel repeat triggers again
	platform.Reset()
	clock.Advance(10 * time.Second)
	d, err = eng.ProcessMessage(ctx, spamEvent("mD", "D"))
	require.NoError(err)
	assert.Equal(4, d.Count)
	assert.True(d.Triggered())
	eng.Dispatcher.Wait()
	assert.Equal(1, len(platform.CallsFor(ActionQuarantine)))
	assert.Equal(4, len(platform.CallsFor(ActionDeleteMessages)))
}

func TestEngineExceedsThreshold(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	policy := DefaultPolicy()
	policy.QuarantineRoleID = "r1"
	policy.Comparison = CompareExceeds

	eng, platform, clock := EngineTestFixtureWithPolicy(policy)
	defer eng.Dispatcher.Shutdown()

	// R+1 messages in R+1 channels, within the window: exactly one action set
	triggered := 0
	for i, ch := range []string{"A", "B", "C", "D"} {
		d, err := eng.ProcessMessage(ctx, spamEvent(fmt.Sprintf("m%d", i), ch))
		require.NoError(err)
		if d.Triggered() {
			triggered++
		}
		clock.Advance(5 * time.Second)
	}
	assert.Equal(1, triggered)
	eng.Dispatcher.Wait()
	assert.Equal(1, len(platform.CallsFor(ActionQuarantine)))
}

func TestEngineWindowExpiry(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	policy := DefaultPolicy()
	policy.QuarantineRoleID = "r1"
	policy.Comparison = CompareExceeds

	eng, platform, clock := EngineTestFixtureWithPolicy(policy)
	defer eng.Dispatcher.Shutdown()

	for i, ch := range []string{"A", "B", "C"} {
		d, err := eng.ProcessMessage(ctx, spamEvent(fmt.Sprintf("m%d", i), ch))
		require.NoError(err)
		assert.False(d.Triggered())
		clock.Advance(10 * time.Second)
	}
	// the (R+1)-th arrives exactly T after the first, which has aged out
	clock.Set(clock.Get().Add(-30 * time.Second).Add(policy.Retention))
	d, err := eng.ProcessMessage(ctx, spamEvent("m3", "D"))
	require.NoError(err)
	assert.Equal(3, d.Count)
	assert.False(d.Triggered())
	eng.Dispatcher.Wait()
	assert.Empty(platform.Calls)
}

func TestEngineSameChannelCountsOnce(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, platform, clock := EngineTestFixture()
	defer eng.Dispatcher.Shutdown()

	for i := 0; i < 10; i++ {
		d, err := eng.ProcessMessage(ctx, spamEvent(fmt.Sprintf("m%d", i), "A"))
		require.NoError(err)
		assert.Equal(1, d.Count)
		assert.Equal(i+1, len(d.Matches))
		clock.Advance(time.Second)
	}
	eng.Dispatcher.Wait()
	assert.Empty(platform.Calls)
}

func TestEngineDropsAndRejects(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng, _, clock := EngineTestFixture()
	defer eng.Dispatcher.Shutdown()

	bot := spamEvent("m1", "A")
	bot.AuthorBot = true
	d, err := eng.ProcessMessage(ctx, bot)
	assert.NoError(err)
	assert.Nil(d)

	empty := spamEvent("m2", "A")
	empty.Content = ""
	d, err = eng.ProcessMessage(ctx, empty)
	assert.NoError(err)
	assert.Nil(d)

	noGuild := spamEvent("m3", "A")
	noGuild.GuildID = ""
	d, err = eng.ProcessMessage(ctx, noGuild)
	assert.ErrorIs(err, event.ErrMissingGuild)
	assert.Nil(d)

	// none of them entered the window
	snap, err := eng.Window.Snapshot(ctx, clock.Get())
	assert.NoError(err)
	assert.Empty(snap)
}

func TestEngineActionCooldown(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, platform, clock := EngineTestFixture()
	defer eng.Dispatcher.Shutdown()
	eng.Cooldown = time.Hour
	eng.Actioned = actionstore.NewMemStore(100, time.Hour)

	var d *Decision
	var err error
	for i, ch := range []string{"A", "B", "C", "D"} {
		d, err = eng.ProcessMessage(ctx, spamEvent(fmt.Sprintf("m%d", i), ch))
		require.NoError(err)
		clock.Advance(time.Second)
	}
	assert.True(d.Triggered())
	assert.True(d.Suppressed)
	eng.Dispatcher.Wait()
	assert.Equal(1, len(platform.CallsFor(ActionQuarantine)))
}

type stuckWindow struct{}

func (stuckWindow) Insert(ctx context.Context, rec event.MessageRecord) error {
	<-ctx.Done()
	return fmt.Errorf("%w: %w", window.ErrLockTimeout, ctx.Err())
}

func (stuckWindow) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	<-ctx.Done()
	return 0, fmt.Errorf("%w: %w", window.ErrLockTimeout, ctx.Err())
}

func (stuckWindow) Snapshot(ctx context.Context, now time.Time) ([]event.MessageRecord, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", window.ErrLockTimeout, ctx.Err())
}

func TestEngineLockTimeout(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng, _, _ := EngineTestFixture()
	defer eng.Dispatcher.Shutdown()
	eng.Window = stuckWindow{}
	eng.LockTimeout = 20 * time.Millisecond

	start := time.Now()
	d, err := eng.ProcessMessage(ctx, spamEvent("m1", "A"))
	assert.ErrorIs(err, window.ErrLockTimeout)
	assert.Nil(d)
	assert.Less(time.Since(start), 5*time.Second)
}

type blockingPlatform struct {
	MockPlatform
	started chan struct{}
	release chan struct{}
}

func (p *blockingPlatform) GrantRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	p.started <- struct{}{}
	<-p.release
	return p.MockPlatform.GrantRole(ctx, guildID, userID, roleID, reason)
}

func TestEngineDoesNotWaitOnDispatch(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, _, clock := EngineTestFixture()
	eng.Dispatcher.Shutdown()

	platform := &blockingPlatform{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	eng.Dispatcher = NewDispatcher(DispatcherConfig{
		Platform:      platform,
		Policy:        eng.Policy,
		ActionTimeout: time.Second,
		Workers:       1,
		QueueSize:     10,
	})
	defer eng.Dispatcher.Shutdown()

	for i, ch := range []string{"A", "B", "C"} {
		_, err := eng.ProcessMessage(ctx, spamEvent(fmt.Sprintf("m%d", i), ch))
		require.NoError(err)
		clock.Advance(time.Second)
	}
	<-platform.started

	// the platform call is still blocked; ingestion carries on
	d, err := eng.ProcessMessage(ctx, spamEvent("other", "E"))
	require.NoError(err)
	assert.Equal(4, d.Count)

	close(platform.release)
	eng.Dispatcher.Wait()
	assert.Equal(2, len(platform.CallsFor(ActionQuarantine)))
}

type panicWindow struct{ stuckWindow }

func (panicWindow) Insert(ctx context.Context, rec event.MessageRecord) error {
	panic("window exploded")
}

func TestEngineNilEventAndLogger(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng, platform, _ := EngineTestFixture()
	defer eng.Dispatcher.Shutdown()
	eng.Logger = nil

	d, err := eng.ProcessMessage(ctx, nil)
	assert.ErrorIs(err, ErrNilEvent)
	assert.Nil(d)

	// works with the default logger
	d, err = eng.ProcessMessage(ctx, spamEvent("m1", "A"))
	assert.NoError(err)
	assert.Equal(1, d.Count)

	// a panic is recovered and reported, also without a configured logger
	eng.Window = panicWindow{}
	d, err = eng.ProcessMessage(ctx, spamEvent("m2", "B"))
	assert.Error(err)
	assert.Contains(err.Error(), "window exploded")
	assert.Nil(d)

	eng.Dispatcher.Wait()
	assert.Empty(platform.Calls)
}

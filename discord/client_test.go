package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Reason string
	Auth   string
	Body   map[string]any
}

type fakeAPI struct {
	lk       sync.Mutex
	requests []recordedRequest
	// path -> status code override
	fail map[string]int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rr := recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Reason: r.Header.Get("X-Audit-Log-Reason"),
		Auth:   r.Header.Get("Authorization"),
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&rr.Body)
	}
	f.lk.Lock()
	f.requests = append(f.requests, rr)
	status, failing := f.fail[r.URL.Path]
	f.lk.Unlock()

	if failing {
		w.Header().Set("Retry-After", "1.5")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(APIError{Code: 50013, Message: "Missing Permissions"})
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/users/@me/channels":
		json.NewEncoder(w).Encode(Channel{ID: "dm-" + rr.Body["recipient_id"].(string), Type: 1})
	case r.Method == http.MethodPost:
		json.NewEncoder(w).Encode(Message{ID: "sent1", Content: rr.Body["content"].(string)})
	case r.Method == http.MethodGet && r.URL.Path == "/gateway/bot":
		json.NewEncoder(w).Encode(GatewayBot{URL: "wss://gateway.example", Shards: 1})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (f *fakeAPI) Requests() []recordedRequest {
	f.lk.Lock()
	defer f.lk.Unlock()
	out := make([]recordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func testClient(t *testing.T, api *fakeAPI) *Client {
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return &Client{
		Client: srv.Client(),
		Host:   srv.URL,
		Token:  "tok",
	}
}

func TestClientModerationCalls(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	api := &fakeAPI{}
	c := testClient(t, api)

	require.NoError(c.AddMemberRole(ctx, "g1", "u1", "r1", "quarantined for spam"))
	require.NoError(c.DeleteMessage(ctx, "c1", "m1", "quarantined for spam"))
	require.NoError(c.BanUser(ctx, "g1", "u1", 1, "auto-ban"))

	reqs := api.Requests()
	require.Equal(3, len(reqs))

	assert.Equal(http.MethodPut, reqs[0].Method)
	assert.Equal("/guilds/g1/members/u1/roles/r1", reqs[0].Path)
	assert.Equal("quarantined%20for%20spam", reqs[0].Reason)
	assert.Equal("Bot tok", reqs[0].Auth)

	assert.Equal(http.MethodDelete, reqs[1].Method)
	assert.Equal("/channels/c1/messages/m1", reqs[1].Path)

	assert.Equal(http.MethodPut, reqs[2].Method)
	assert.Equal("/guilds/g1/bans/u1", reqs[2].Path)
	assert.Equal(float64(86400), reqs[2].Body["delete_message_seconds"])
}

func TestClientError(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	api := &fakeAPI{fail: map[string]int{"/channels/c1/messages/m1": http.StatusTooManyRequests}}
	c := testClient(t, api)

	err := c.DeleteMessage(ctx, "c1", "m1", "")
	var apiErr *Error
	if assert.True(errors.As(err, &apiErr)) {
		assert.Equal(http.StatusTooManyRequests, apiErr.StatusCode)
		assert.True(apiErr.IsThrottled())
		assert.Equal(1500*time.Millisecond, apiErr.RetryAfter)
	}
	var body *APIError
	if assert.True(errors.As(err, &body)) {
		assert.Equal(50013, body.Code)
	}
}

func TestClientReusesConnections(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var conns atomic.Int32
	srv := httptest.NewUnstartedServer(&fakeAPI{})
	srv.Config.ConnState = func(c net.Conn, state http.ConnState) {
		if state == http.StateNew {
			conns.Add(1)
		}
	}
	srv.Start()
	defer srv.Close()

	// no HTTP client configured: the default one is built once and shared
	c := &Client{Host: srv.URL, Token: "tok"}
	assert.Same(c.getClient(), c.getClient())

	for i := 0; i < 10; i++ {
		assert.NoError(c.DeleteMessage(ctx, "chan1", fmt.Sprintf("msg%d", i), "cleanup"))
	}
	// a JSON body on a 2xx reply is drained too
	_, err := c.GetGatewayBot(ctx)
	assert.NoError(err)
	assert.NoError(c.DeleteMessage(ctx, "chan1", "last", "cleanup"))

	assert.Equal(int32(1), conns.Load())
}

func TestClientGateway(t *testing.T) {
	assert := assert.New(t)

	api := &fakeAPI{}
	c := testClient(t, api)

	gw, err := c.GetGatewayBot(context.Background())
	assert.NoError(err)
	assert.Equal("wss://gateway.example", gw.URL)
}

func TestModeratorDirectNotification(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	api := &fakeAPI{}
	m := NewModerator(testClient(t, api))

	assert.NoError(m.SendDirectNotification(ctx, "admin1", "hello"))
	assert.NoError(m.SendDirectNotification(ctx, "admin1", "again"))

	reqs := api.Requests()
	if assert.Equal(3, len(reqs)) {
		assert.Equal("/users/@me/channels", reqs[0].Path)
		assert.Equal("/channels/dm-admin1/messages", reqs[1].Path)
		assert.Equal("hello", reqs[1].Body["content"])
		// DM channel was cached
		assert.Equal("/channels/dm-admin1/messages", reqs[2].Path)
	}

	// a failed send drops the cached channel
	api.lk.Lock()
	api.fail = map[string]int{"/channels/dm-admin1/messages": http.StatusForbidden}
	api.lk.Unlock()
	assert.Error(m.SendDirectNotification(ctx, "admin1", "fails"))
	_, ok := m.dmChannels.Get("admin1")
	assert.False(ok)
}

func TestMessageEvent(t *testing.T) {
	assert := assert.New(t)

	raw := `{"id":"m1","channel_id":"c1","guild_id":"g1","author":{"id":"u1","username":"someone","global_name":"Some One"},"content":"buy now","embeds":[{"title":"t","type":"link","description":"d","url":"https://example.com"}],"attachments":[{"id":"a1","filename":"x.png","size":3,"url":"https://cdn.example/x.png"}]}`
	var msg Message
	assert.NoError(json.Unmarshal([]byte(raw), &msg))

	evt := msg.Event()
	assert.Equal("m1", evt.MessageID)
	assert.Equal("g1", evt.GuildID)
	assert.Equal("c1", evt.ChannelID)
	assert.Equal("u1", evt.AuthorID)
	assert.Equal("Some One", evt.AuthorName)
	assert.False(evt.AuthorBot)
	assert.Equal("buy now", evt.Content)
	if assert.Equal(1, len(evt.Embeds)) {
		assert.Equal("link", evt.Embeds[0].Kind)
		assert.Equal("https://example.com", evt.Embeds[0].URL)
	}

	dm := Message{ID: "m2", ChannelID: "c2", Author: User{ID: "u2", Username: "plain", Bot: true}}
	evt = dm.Event()
	assert.Equal("plain", evt.AuthorName)
	assert.True(evt.AuthorBot)
	assert.Equal("", evt.GuildID)
}

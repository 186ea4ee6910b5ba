// Minimal client for the chat platform's REST API: exactly the calls the moderation daemon needs, plus gateway discovery.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ro-community/robot/pkg/robusthttp"

	"github.com/carlmjohnson/versioninfo"
	"golang.org/x/time/rate"
)

const DefaultHost = "https://discord.com/api/v10"

type Client struct {
	// Client is an HTTP client to use. If not set, defaults to a robusthttp client without retries.
	Client *http.Client
	// API base, including version path
	Host  string
	Token string
	// Outbound request limiter (optional)
	Limiter   *rate.Limiter
	UserAgent *string

	// built on first use when Client is nil, then shared by every request
	fallbackOnce sync.Once
	fallback     *http.Client
}

func (c *Client) getClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	c.fallbackOnce.Do(func() {
		c.fallback = robusthttp.NewClient(robusthttp.WithMaxRetries(0))
	})
	return c.fallback
}

// Error body returned by the API on failure
type APIError struct {
	Code       int     `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

func (ae *APIError) Error() string {
	return fmt.Sprintf("%d: %s", ae.Code, ae.Message)
}

type Error struct {
	StatusCode int
	Wrapped    error
	// set on throttled responses
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("API ERROR %d", e.StatusCode)
	}
	if e.IsThrottled() && e.RetryAfter > 0 {
		return fmt.Sprintf("API ERROR %d: %s (retry after %s)", e.StatusCode, e.Wrapped, e.RetryAfter)
	}
	return fmt.Sprintf("API ERROR %d: %s", e.StatusCode, e.Wrapped)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

func (e *Error) IsThrottled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func errorFromHTTPResponse(resp *http.Response, err error) error {
	r := &Error{
		StatusCode: resp.StatusCode,
		Wrapped:    err,
	}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, perr := strconv.ParseFloat(s, 64); perr == nil {
			r.RetryAfter = time.Duration(secs * float64(time.Second))
		}
	}
	return r
}

// Performs a single API request. "reason", if not empty, is recorded in the guild audit log. "out" may be nil for endpoints which return no content.
func (c *Client) Do(ctx context.Context, method, path, reason string, bodyobj any, out any) error {
	var body io.Reader
	if bodyobj != nil {
		b, err := json.Marshal(bodyobj)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Host+path, body)
	if err != nil {
		return err
	}
	if bodyobj != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserAgent != nil {
		req.Header.Set("User-Agent", *c.UserAgent)
	} else {
		req.Header.Set("User-Agent", fmt.Sprintf("DiscordBot (https://github.com/ro-community/robot, %s)", versioninfo.Short()))
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bot "+c.Token)
	}
	if reason != "" {
		req.Header.Set("X-Audit-Log-Reason", url.PathEscape(reason))
	}

	resp, err := c.getClient().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		// drain so the keep-alive connection goes back to the pool
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae APIError
		if err := json.NewDecoder(resp.Body).Decode(&ae); err != nil {
			return errorFromHTTPResponse(resp, fmt.Errorf("failed to decode API error message: %w", err))
		}
		return errorFromHTTPResponse(resp, &ae)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding JSON response body: %w", err)
		}
	}
	return nil
}

func (c *Client) AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", url.PathEscape(guildID), url.PathEscape(userID), url.PathEscape(roleID))
	return c.Do(ctx, http.MethodPut, path, reason, nil, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID, reason string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", url.PathEscape(channelID), url.PathEscape(messageID))
	return c.Do(ctx, http.MethodDelete, path, reason, nil, nil)
}

type createBanBody struct {
	DeleteMessageSeconds int `json:"delete_message_seconds"`
}

// Bans the user from the guild, deleting their messages from the last "deleteMessageDays" days.
func (c *Client) BanUser(ctx context.Context, guildID, userID string, deleteMessageDays int, reason string) error {
	path := fmt.Sprintf("/guilds/%s/bans/%s", url.PathEscape(guildID), url.PathEscape(userID))
	body := createBanBody{DeleteMessageSeconds: deleteMessageDays * 24 * 60 * 60}
	return c.Do(ctx, http.MethodPut, path, reason, body, nil)
}

type Channel struct {
	ID   string `json:"id"`
	Type int    `json:"type"`
}

type createDMBody struct {
	RecipientID string `json:"recipient_id"`
}

// Opens (or returns the existing) direct message channel with the user.
func (c *Client) CreateDM(ctx context.Context, recipientID string) (*Channel, error) {
	var out Channel
	if err := c.Do(ctx, http.MethodPost, "/users/@me/channels", "", createDMBody{RecipientID: recipientID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type createMessageBody struct {
	Content string `json:"content"`
}

func (c *Client) CreateMessage(ctx context.Context, channelID, content string) (*Message, error) {
	var out Message
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channelID))
	if err := c.Do(ctx, http.MethodPost, path, "", createMessageBody{Content: content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type GatewayBot struct {
	URL    string `json:"url"`
	Shards int    `json:"shards"`
}

// Looks up the websocket URL to connect to.
func (c *Client) GetGatewayBot(ctx context.Context) (*GatewayBot, error) {
	var out GatewayBot
	if err := c.Do(ctx, http.MethodGet, "/gateway/bot", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

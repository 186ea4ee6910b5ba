package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Posts decisions to a slack "incoming webhook", which must already be configured in the workspace.
type SlackNotifier struct {
	SlackWebhookURL string
	Client          *http.Client
}

var _ Notifier = (*SlackNotifier)(nil)

func (n *SlackNotifier) Name() string {
	return "slack"
}

// Webhook payload. Only the fallback text is required; attachment fields render as a compact table.
type SlackWebhookBody struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Channels the matched messages were posted in, first-seen order, one entry per channel.
func matchedChannels(d *Decision) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, m := range d.Matches {
		if !seen[m.ChannelID] {
			seen[m.ChannelID] = true
			out = append(out, m.ChannelID)
		}
	}
	return out
}

func slackBody(d *Decision, text string) SlackWebhookBody {
	rec := d.Record
	color := "warning"
	if d.Actions.Has(ActionBan) {
		color = "danger"
	}
	return SlackWebhookBody{
		Text: "⚠️ Automod Action ⚠️\n" + text,
		Attachments: []SlackAttachment{{
			Color: color,
			Fields: []SlackField{
				{Title: "Guild", Value: rec.GuildID, Short: true},
				{Title: "Author", Value: rec.AuthorID, Short: true},
				{Title: "Channels", Value: strings.Join(matchedChannels(d), ", ")},
				{Title: "Actions", Value: strings.Join(d.Actions.Strings(), ", "), Short: true},
				{Title: "Trigger", Value: rec.String(), Short: true},
			},
		}},
	}
}

func (n *SlackNotifier) Notify(ctx context.Context, d *Decision, text string) error {
	body, err := json.Marshal(slackBody(d, text))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// slack answers a plain "ok" on success, and a short error string otherwise
	reply, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("reading slack webhook response (status=%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || string(reply) != "ok" {
		return fmt.Errorf("slack webhook POST failed: status=%d body=%q", resp.StatusCode, string(reply))
	}
	return nil
}

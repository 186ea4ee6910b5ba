package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ro-community/robot/automod/engine"
	"github.com/ro-community/robot/automod/event"
	"github.com/ro-community/robot/discord"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/websocket"
)

var errReconnect = errors.New("gateway requested reconnect")

// Subscribes to the chat gateway websocket and feeds MESSAGE_CREATE dispatches into the automod engine.
type GatewayConsumer struct {
	Parallelism int
	Logger      *slog.Logger
	Engine      *engine.Engine
	// used to discover the gateway URL, when GatewayURL is not set
	Client  *discord.Client
	Token   string
	Intents int
	// optional override of the discovered gateway URL
	GatewayURL string

	// lastSeq is the most recent dispatch sequence number, echoed back in heartbeats. Use atomics.
	lastSeq int64
	// set when a heartbeat has been sent and not yet acknowledged
	awaitingAck atomic.Bool
}

func (gc *GatewayConsumer) Run(ctx context.Context) error {
	if gc.Engine == nil {
		return fmt.Errorf("nil engine")
	}

	sched := NewScheduler(gc.Parallelism, "gateway", gc.HandleMessage)
	defer sched.Shutdown()

	backoff := time.Second
	for {
		start := time.Now()
		err := gc.connect(ctx, sched)
		if ctx.Err() != nil {
			return nil
		}
		// a connection which stayed up for a while resets the backoff
		if time.Since(start) > time.Minute {
			backoff = time.Second
		}
		gc.Logger.Warn("gateway connection ended, reconnecting", "err", err, "backoff", backoff)
		gatewayReconnects.Inc()
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff = min(backoff*2, time.Minute)
	}
}

func (gc *GatewayConsumer) gatewayURL(ctx context.Context) (string, error) {
	raw := gc.GatewayURL
	if raw == "" {
		if gc.Client == nil {
			return "", fmt.Errorf("no gateway URL or API client configured")
		}
		gb, err := gc.Client.GetGatewayBot(ctx)
		if err != nil {
			return "", fmt.Errorf("discovering gateway URL: %w", err)
		}
		raw = gb.URL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid gateway URL: %w", err)
	}
	q := u.Query()
	q.Set("v", "10")
	q.Set("encoding", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// gorilla websocket connections support a single concurrent writer
type gatewayConn struct {
	con *websocket.Conn
	wlk sync.Mutex
}

func (c *gatewayConn) send(op int, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.wlk.Lock()
	defer c.wlk.Unlock()
	c.con.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.con.WriteJSON(discord.GatewayPayload{Op: op, Data: raw})
}

// Runs a single gateway session, returning when the connection fails or the gateway asks us to reconnect.
func (gc *GatewayConsumer) connect(ctx context.Context, sched *Scheduler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	u, err := gc.gatewayURL(ctx)
	if err != nil {
		return err
	}
	gc.Logger.Info("connecting to gateway", "url", u)
	con, _, err := websocket.DefaultDialer.DialContext(ctx, u, http.Header{
		"User-Agent": []string{fmt.Sprintf("robot/%s", versioninfo.Short())},
	})
	if err != nil {
		return fmt.Errorf("connecting to gateway failed (dialing): %w", err)
	}
	gconn := &gatewayConn{con: con}
	go func() {
		<-ctx.Done()
		con.Close()
	}()

	var hello discord.GatewayPayload
	if err := con.ReadJSON(&hello); err != nil {
		return fmt.Errorf("reading gateway hello: %w", err)
	}
	if hello.Op != discord.OpHello {
		return fmt.Errorf("expected gateway hello, got op %d", hello.Op)
	}
	var h discord.Hello
	if err := json.Unmarshal(hello.Data, &h); err != nil {
		return fmt.Errorf("decoding gateway hello: %w", err)
	}

	intents := gc.Intents
	if intents == 0 {
		intents = discord.DefaultIntents
	}
	err = gconn.send(discord.OpIdentify, discord.Identify{
		Token:   gc.Token,
		Intents: intents,
		Properties: discord.IdentifyProperties{
			OS:      "linux",
			Browser: "robot",
			Device:  "robot",
		},
	})
	if err != nil {
		return fmt.Errorf("sending identify: %w", err)
	}

	gc.awaitingAck.Store(false)
	go gc.heartbeat(ctx, cancel, gconn, time.Duration(h.HeartbeatInterval)*time.Millisecond)

	for {
		var p discord.GatewayPayload
		if err := con.ReadJSON(&p); err != nil {
			return err
		}
		if err := gc.handlePayload(ctx, gconn, sched, &p); err != nil {
			return err
		}
	}
}

func (gc *GatewayConsumer) heartbeat(ctx context.Context, cancel context.CancelFunc, gconn *gatewayConn, interval time.Duration) {
	if interval <= 0 {
		interval = 45 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if gc.awaitingAck.Load() {
				// zombied connection; tear it down so Run reconnects
				gc.Logger.Warn("gateway heartbeat not acknowledged, closing connection")
				cancel()
				return
			}
			if err := gc.sendHeartbeat(gconn); err != nil {
				gc.Logger.Warn("failed to send heartbeat", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (gc *GatewayConsumer) sendHeartbeat(gconn *gatewayConn) error {
	var seq *int64
	if s := atomic.LoadInt64(&gc.lastSeq); s > 0 {
		seq = &s
	}
	gc.awaitingAck.Store(true)
	return gconn.send(discord.OpHeartbeat, seq)
}

func (gc *GatewayConsumer) handlePayload(ctx context.Context, gconn *gatewayConn, sched *Scheduler, p *discord.GatewayPayload) error {
	gatewayEventsReceived.WithLabelValues(strconv.Itoa(p.Op), p.Type).Inc()
	switch p.Op {
	case discord.OpDispatch:
		if p.Seq != nil {
			atomic.StoreInt64(&gc.lastSeq, *p.Seq)
			currentSeq.Set(float64(*p.Seq))
		}
		switch p.Type {
		case "READY":
			gc.Logger.Info("gateway session ready")
		case "MESSAGE_CREATE":
			var msg discord.Message
			if err := json.Unmarshal(p.Data, &msg); err != nil {
				// malformed event: skip it, keep the session
				gc.Logger.Error("bad MESSAGE_CREATE payload", "err", err)
				return nil
			}
			return sched.AddWork(ctx, msg.Author.ID, msg.Event())
		}
	case discord.OpHeartbeat:
		return gc.sendHeartbeat(gconn)
	case discord.OpHeartbeatACK:
		gc.awaitingAck.Store(false)
	case discord.OpReconnect:
		return errReconnect
	case discord.OpInvalidSession:
		return fmt.Errorf("gateway session invalidated")
	}
	return nil
}

// NOTE: never returns an error for rejected events; they are logged and skipped so the session keeps going.
func (gc *GatewayConsumer) HandleMessage(ctx context.Context, evt *event.MessageEvent) error {
	if _, err := gc.Engine.ProcessMessage(ctx, evt); err != nil {
		gc.Logger.Error("processing message failed", "message", evt.MessageID, "channel", evt.ChannelID, "author", evt.AuthorID, "err", err)
	}
	return nil
}

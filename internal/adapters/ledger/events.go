package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	domainledger "watchtower/internal/domain/ledger"
	"watchtower/pkg/logger"
)

const (
	dialTimeout     = 10 * time.Second
	readWait        = 90 * time.Second
	pingInterval    = 30 * time.Second
	reconnectMin    = time.Second
	reconnectMax    = time.Minute
	eventBufferSize = 256
)

var _ domainledger.EventSource = (*EventFeed)(nil)

// EventFeed streams ledger change events over a websocket subscription.
// It reconnects with exponential backoff on any transport failure. A
// Close tears the stream down completely; a later Subscribe opens a
// fresh one, so the feed survives monitor stop/start cycles.
type EventFeed struct {
	url string
	log *logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan domainledger.Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewEventFeed creates an event feed for the given websocket endpoint
func NewEventFeed(url string, log *logger.Logger) *EventFeed {
	return &EventFeed{
		url: url,
		log: log.With("component", "ledger_events"),
	}
}

// Subscribe opens the stream and returns the event channel. The
// channel closes when ctx is cancelled or Close is called. Calling
// Subscribe on an open feed returns the existing channel.
func (f *EventFeed) Subscribe(ctx context.Context) (<-chan domainledger.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.events != nil {
		return f.events, nil
	}

	events := make(chan domainledger.Event, eventBufferSize)
	done := make(chan struct{})
	f.events = events
	f.done = done

	f.wg.Add(1)
	go f.run(ctx, events, done)

	return events, nil
}

// Close tears down the stream and closes the event channel.
// Safe to call on a closed or never-subscribed feed.
func (f *EventFeed) Close() error {
	f.mu.Lock()
	if f.events == nil {
		f.mu.Unlock()
		return nil
	}
	close(f.done)
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()

	f.wg.Wait()

	f.mu.Lock()
	f.events = nil
	f.done = nil
	f.mu.Unlock()
	return nil
}

// run drives the connect/read/reconnect loop for one subscription
func (f *EventFeed) run(ctx context.Context, events chan domainledger.Event, done chan struct{}) {
	defer f.wg.Done()
	defer close(events)

	backoff := reconnectMin

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		default:
		}

		conn, err := f.connect(ctx, done)
		if err != nil {
			f.log.Warnw("Ledger event feed connect failed",
				"url", f.url,
				"backoff", backoff,
				"error", err,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-done:
				return
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}

		backoff = reconnectMin
		f.log.Infow("Ledger event feed connected", "url", f.url)

		f.readLoop(ctx, conn, events, done)

		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		conn.Close()
	}
}

// connect dials and sends the subscription frame
func (f *EventFeed) connect(ctx context.Context, done chan struct{}) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	if err != nil {
		return nil, err
	}

	sub := map[string]interface{}{
		"op": "subscribe",
		"topics": []string{
			string(domainledger.EventBorrow),
			string(domainledger.EventRepay),
			string(domainledger.EventCollateralAdded),
			string(domainledger.EventCollateralRemoved),
			string(domainledger.EventAuctionEnded),
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, err
	}

	f.mu.Lock()
	select {
	case <-done:
		// Closed while dialing; drop the connection
		f.mu.Unlock()
		conn.Close()
		return nil, context.Canceled
	default:
	}
	f.conn = conn
	f.mu.Unlock()
	return conn, nil
}

// readLoop consumes frames until the connection breaks
func (f *EventFeed) readLoop(ctx context.Context, conn *websocket.Conn, events chan domainledger.Event, done chan struct{}) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go pingLoop(conn, pingDone, done)

	for {
		var event domainledger.Event
		if err := conn.ReadJSON(&event); err != nil {
			select {
			case <-ctx.Done():
			case <-done:
			default:
				f.log.Warnw("Ledger event feed read failed", "error", err)
			}
			return
		}

		if event.Kind == "" {
			// Subscription ack or heartbeat frame
			continue
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}

// pingLoop keeps the connection alive between events
func pingLoop(conn *websocket.Conn, pingDone, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-pingDone:
			return
		case <-done:
			return
		}
	}
}

package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainledger "watchtower/internal/domain/ledger"
	"watchtower/pkg/logger"
)

// eventServer accepts subscriptions and pushes one event per connection
type eventServer struct {
	srv      *httptest.Server
	conns    atomic.Int32
	perConn  func(n int32) domainledger.Event
	upgrader websocket.Upgrader
}

func newEventServer(t *testing.T, perConn func(n int32) domainledger.Event) *eventServer {
	t.Helper()

	es := &eventServer{perConn: perConn}
	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := es.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Consume the subscription frame before pushing events
		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}

		n := es.conns.Add(1)
		if err := conn.WriteJSON(es.perConn(n)); err != nil {
			return
		}

		// Hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(es.srv.Close)
	return es
}

func (es *eventServer) wsURL() string {
	return "ws" + strings.TrimPrefix(es.srv.URL, "http")
}

func receiveEvent(t *testing.T, ch <-chan domainledger.Event) domainledger.Event {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "event channel closed unexpectedly")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domainledger.Event{}
	}
}

func TestEventFeed_DeliversEvents(t *testing.T) {
	server := newEventServer(t, func(n int32) domainledger.Event {
		return domainledger.Event{Kind: domainledger.EventBorrow, Borrower: "0xabc"}
	})
	feed := NewEventFeed(server.wsURL(), logger.Get())
	defer feed.Close()

	ch, err := feed.Subscribe(context.Background())
	require.NoError(t, err)

	event := receiveEvent(t, ch)
	assert.Equal(t, domainledger.EventBorrow, event.Kind)
	assert.Equal(t, "0xabc", event.Borrower)
}

func TestEventFeed_ResubscribeAfterClose(t *testing.T) {
	// A monitor stop/start cycle closes the feed and subscribes again;
	// the second subscription must get a fresh live stream.
	server := newEventServer(t, func(n int32) domainledger.Event {
		if n == 1 {
			return domainledger.Event{Kind: domainledger.EventBorrow, Borrower: "0xfirst"}
		}
		return domainledger.Event{Kind: domainledger.EventRepay, Borrower: "0xsecond"}
	})
	feed := NewEventFeed(server.wsURL(), logger.Get())

	ch1, err := feed.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0xfirst", receiveEvent(t, ch1).Borrower)

	require.NoError(t, feed.Close())
	_, open := <-ch1
	assert.False(t, open, "first channel must close on Close")

	ch2, err := feed.Subscribe(context.Background())
	require.NoError(t, err)

	event := receiveEvent(t, ch2)
	assert.Equal(t, domainledger.EventRepay, event.Kind)
	assert.Equal(t, "0xsecond", event.Borrower)

	require.NoError(t, feed.Close())
}

func TestEventFeed_CloseWithoutSubscribe(t *testing.T) {
	feed := NewEventFeed("ws://127.0.0.1:1", logger.Get())
	require.NoError(t, feed.Close())
	require.NoError(t, feed.Close())
}

func TestEventFeed_SubscribeIsIdempotentWhileOpen(t *testing.T) {
	server := newEventServer(t, func(n int32) domainledger.Event {
		return domainledger.Event{Kind: domainledger.EventBorrow, Borrower: "0xabc"}
	})
	feed := NewEventFeed(server.wsURL(), logger.Get())
	defer feed.Close()

	ch1, err := feed.Subscribe(context.Background())
	require.NoError(t, err)
	ch2, err := feed.Subscribe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ch1, ch2)
}

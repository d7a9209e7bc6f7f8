package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmail/backend/internal/domain"
)

type staticTokens map[string]*domain.Principal

func (s staticTokens) Principal(token string) (*domain.Principal, error) {
	if p, ok := s[token]; ok {
		return p, nil
	}
	return nil, errors.New("invalid token")
}

// addressGrants userID -> 可订阅的地址
type addressGrants map[string][]string

func (g addressGrants) CanViewAddress(_ context.Context, p *domain.Principal, addressID string) (bool, error) {
	for _, id := range g[p.UserID] {
		if id == addressID {
			return true, nil
		}
	}
	return false, nil
}

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := staticTokens{"tok-u1": {UserID: "u1"}}
	hub := NewHub(nil, tokens, addressGrants{"u1": {"addr-1"}}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", HandleWebSocket(hub))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) (*gorillaws.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	return gorillaws.DefaultDialer.Dial(url, nil)
}

func readMessage(t *testing.T, conn *gorillaws.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHandleWebSocket_RejectsBadToken(t *testing.T) {
	_, srv := newTestServer(t)

	_, resp, err := dial(t, srv, "nope")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_SubscribeAndReceive(t *testing.T) {
	hub, srv := newTestServer(t)

	conn, _, err := dial(t, srv, "tok-u1")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, AddressID: "addr-2"}))
	denied := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, denied.Type)
	assert.Contains(t, denied.Error, "addr-2")

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, AddressID: "addr-1"}))
	ack := readMessage(t, conn)
	assert.Equal(t, MessageTypeSubscribed, ack.Type)
	assert.Equal(t, "addr-1", ack.AddressID)
	assert.Equal(t, 1, hub.SubscriberCount("addr-1"))

	// 其他地址的事件不会送达
	require.NoError(t, hub.PublishNewMail(context.Background(), domain.NewMailEvent{AddressID: "addr-2", MessageID: "other"}))
	require.NoError(t, hub.PublishNewMail(context.Background(), domain.NewMailEvent{
		AddressID: "addr-1",
		MessageID: "m1",
		Subject:   "hello",
	}))

	got := readMessage(t, conn)
	assert.Equal(t, MessageTypeNewMail, got.Type)
	assert.Equal(t, "addr-1", got.AddressID)

	var evt domain.NewMailEvent
	require.NoError(t, json.Unmarshal(got.Data, &evt))
	assert.Equal(t, "m1", evt.MessageID)
	assert.Equal(t, "hello", evt.Subject)
}

func TestHub_UnsubscribeOnDisconnect(t *testing.T) {
	hub, srv := newTestServer(t)

	conn, _, err := dial(t, srv, "tok-u1")
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, AddressID: "addr-1"}))
	readMessage(t, conn)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return hub.SubscriberCount("addr-1") == 0 }, 3*time.Second, 20*time.Millisecond)
}

type fakeSubscriber struct {
	events []domain.NewMailEvent
}

func (f fakeSubscriber) SubscribeNewMail(_ context.Context, handle func(domain.NewMailEvent)) error {
	for _, evt := range f.events {
		handle(evt)
	}
	return nil
}

func TestHub_RelayFrom(t *testing.T) {
	hub, srv := newTestServer(t)

	conn, _, err := dial(t, srv, "tok-u1")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, AddressID: "addr-1"}))
	readMessage(t, conn)

	sub := fakeSubscriber{events: []domain.NewMailEvent{{AddressID: "addr-1", MessageID: "relayed"}}}
	require.NoError(t, hub.RelayFrom(context.Background(), sub))

	got := readMessage(t, conn)
	var evt domain.NewMailEvent
	require.NoError(t, json.Unmarshal(got.Data, &evt))
	assert.Equal(t, "relayed", evt.MessageID)
}

func TestHub_PublishAfterStop(t *testing.T) {
	hub := NewHub(nil, staticTokens{}, addressGrants{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// 缓冲区未满时事件仍可入队，填满后返回错误
	var err error
	for i := 0; i < 300 && err == nil; i++ {
		err = hub.PublishNewMail(context.Background(), domain.NewMailEvent{AddressID: "a"})
	}
	assert.Error(t, err)
}

package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ============================================================
// Realtime: Phoenix channel over websocket
// ============================================================

const (
	realtimeChannel = "etudes-changes"
	phoenixTopic    = "phoenix"

	eventJoin            = "phx_join"
	eventLeave           = "phx_leave"
	eventReply           = "phx_reply"
	eventError           = "phx_error"
	eventClose           = "phx_close"
	eventHeartbeat       = "heartbeat"
	eventPostgresChanges = "postgres_changes"
)

type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type postgresChangeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type joinPayload struct {
	Config struct {
		Broadcast struct {
			Self bool `json:"self"`
		} `json:"broadcast"`
		Presence struct {
			Key string `json:"key"`
		} `json:"presence"`
		PostgresChanges []postgresChangeFilter `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// Realtime subscribes to row changes of the studies table through the
// Supabase Realtime websocket. It implements port.ChangeSubscriber.
type Realtime struct {
	endpoint string
	apiKey   string
	schema   string
	table    string
	dialer   *websocket.Dialer
	logger   *zap.Logger

	// HeartbeatInterval keeps the socket alive. Supabase drops silent
	// clients after about a minute.
	HeartbeatInterval time.Duration
	// ReconnectDelay is the first wait before redialing; it doubles up to
	// MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// NewRealtime builds a subscriber for table on the project at baseURL.
func NewRealtime(baseURL, apiKey, table string, logger *zap.Logger) (*Realtime, error) {
	endpoint, err := realtimeEndpoint(baseURL, apiKey)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = DefaultStudiesTable
	}
	return &Realtime{
		endpoint:          endpoint,
		apiKey:            apiKey,
		schema:            "public",
		table:             table,
		dialer:            &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:            logger,
		HeartbeatInterval: 25 * time.Second,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}, nil
}

// realtimeEndpoint turns https://<ref>.supabase.co into the websocket URL.
func realtimeEndpoint(baseURL, apiKey string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse supabase url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported supabase url scheme %q", u.Scheme)
	}
	u.Path += "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe dials the realtime socket, joins the change channel and calls
// onChange for every insert, update or delete. A dropped connection is
// redialed in the background and onChange fires once after each reconnect,
// since changes may have been missed. The first dial error is returned.
//
// onChange runs on the reader goroutine and must not call unsubscribe.
// Once unsubscribe returns, onChange is never called again.
func (r *Realtime) Subscribe(ctx context.Context, onChange func()) (func(), error) {
	subCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		r:        r,
		onChange: onChange,
		ctx:      subCtx,
		cancel:   cancel,
		joinRef:  uuid.NewString(),
	}

	conn, err := s.connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	s.wg.Add(1)
	go s.run(conn)

	var once sync.Once
	return func() { once.Do(s.close) }, nil
}

type subscription struct {
	r        *Realtime
	onChange func()
	ctx      context.Context
	cancel   context.CancelFunc
	joinRef  string
	ref      atomic.Uint64

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn

	wg sync.WaitGroup
}

func (s *subscription) topic() string {
	return "realtime:" + realtimeChannel
}

func (s *subscription) nextRef() string {
	return strconv.FormatUint(s.ref.Add(1), 10)
}

// connect dials and joins. The connection is registered only if the
// subscription is still active.
func (s *subscription) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.r.dialer.DialContext(ctx, s.r.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial supabase realtime: %w", err)
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return nil, s.ctx.Err()
	}
	s.conn = conn
	s.mu.Unlock()

	var payload joinPayload
	payload.Config.PostgresChanges = []postgresChangeFilter{{Event: "*", Schema: s.r.schema, Table: s.r.table}}
	payload.AccessToken = s.r.apiKey
	if err := s.send(conn, s.topic(), eventJoin, payload, &s.joinRef); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join %s: %w", s.topic(), err)
	}
	return conn, nil
}

func (s *subscription) send(conn *websocket.Conn, topic, event string, payload any, joinRef *string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ref := s.nextRef()
	msg := phoenixMessage{Topic: topic, Event: event, Payload: raw, Ref: &ref, JoinRef: joinRef}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (s *subscription) run(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		err := s.serve(conn)
		if s.ctx.Err() != nil {
			return
		}
		s.r.logger.Warn("supabase realtime: connection lost, reconnecting", zap.Error(err))

		conn = s.reconnect()
		if conn == nil {
			return
		}
		s.r.logger.Info("supabase realtime: reconnected", zap.String("table", s.r.table))
		s.notify()
	}
}

// serve reads until the connection fails. A heartbeat runs alongside.
func (s *subscription) serve(conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	go s.heartbeat(conn, done)

	for {
		var msg phoenixMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		switch msg.Event {
		case eventPostgresChanges:
			if msg.Topic == s.topic() {
				s.notify()
			}
		case eventReply:
			var reply replyPayload
			if err := json.Unmarshal(msg.Payload, &reply); err == nil && reply.Status != "ok" {
				s.r.logger.Error("supabase realtime: channel error",
					zap.String("topic", msg.Topic),
					zap.String("status", reply.Status),
					zap.ByteString("response", reply.Response),
				)
			}
		case eventError, eventClose:
			if msg.Topic == s.topic() {
				return fmt.Errorf("channel %s closed by server (%s)", msg.Topic, msg.Event)
			}
		}
	}
}

func (s *subscription) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	if s.r.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.r.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.send(conn, phoenixTopic, eventHeartbeat, struct{}{}, nil); err != nil {
				s.r.logger.Debug("supabase realtime: heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *subscription) reconnect() *websocket.Conn {
	delay := s.r.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-time.After(delay):
		}

		conn, err := s.connect(s.ctx)
		if err == nil {
			return conn
		}
		if errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
			return nil
		}
		s.r.logger.Warn("supabase realtime: reconnect failed", zap.Error(err), zap.Duration("retry_in", delay))

		delay *= 2
		if s.r.MaxReconnectDelay > 0 && delay > s.r.MaxReconnectDelay {
			delay = s.r.MaxReconnectDelay
		}
	}
}

func (s *subscription) notify() {
	if s.ctx.Err() != nil {
		return
	}
	s.onChange()
}

func (s *subscription) close() {
	s.cancel()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = s.send(conn, s.topic(), eventLeave, struct{}{}, &s.joinRef)
		conn.Close()
	}
	s.wg.Wait()
}

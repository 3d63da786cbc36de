package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rxtech-lab/argo-alpaca/pkg/errors"
	"go.uber.org/zap"
)

// Event names published by streams.
const (
	EventOpen           = "open"
	EventAuthenticated  = "authenticated"
	EventMessage        = "message"
	EventClose          = "close"
	EventError          = "error"
	EventTrade          = "trade"
	EventQuote          = "quote"
	EventMinuteBar      = "minute"
	EventTradeUpdates   = "trade_updates"
	EventAccountUpdates = "account_updates"
)

// State is the lifecycle state of a Session. A session moves forward only:
// Disconnected, Connecting, Authenticated, Closed.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Event is one notification delivered to listeners.
type Event struct {
	Name       string
	Data       json.RawMessage
	Err        error
	ReceivedAt time.Time
}

// Credentials authenticate a stream.
type Credentials struct {
	KeyID     string
	SecretKey string
}

type streamAction struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
}

type authData struct {
	KeyID     string `json:"key_id"`
	SecretKey string `json:"secret_key"`
}

type streamsData struct {
	Streams []string `json:"streams"`
}

type authReply struct {
	Data struct {
		Status string `json:"status"`
	} `json:"data"`
}

// demuxFunc derives typed events from one inbound frame.
type demuxFunc func(frame json.RawMessage) []Event

// Session is an authenticated websocket connection with a subscription set
// and a send queue. Messages sent before authorization are queued and
// flushed in order right after it. A session is single-use: once closed it
// cannot be reconnected.
type Session struct {
	name             string
	url              string
	credentials      Credentials
	dialer           *websocket.Dialer
	handshakeTimeout time.Duration
	logger           *zap.Logger
	allowed          []*regexp.Regexp
	demux            demuxFunc

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	queue         [][]byte
	subscriptions map[string]struct{}

	listenersMu     sync.Mutex
	listeners       map[string][]chan Event
	listenersClosed bool
	eventBuffer     int
}

// NewSession creates a session that accepts any channel name and publishes
// only the generic events.
func NewSession(url string, credentials Credentials, opts ...Option) *Session {
	return newSession("raw", url, credentials, nil, nil, opts)
}

func newSession(name, url string, credentials Credentials, allowed []*regexp.Regexp, demux demuxFunc, opts []Option) *Session {
	o := newOptions(opts)

	return &Session{
		name:             name,
		url:              url,
		credentials:      credentials,
		dialer:           o.dialer,
		handshakeTimeout: o.handshakeTimeout,
		logger:           o.logger.With(zap.String("stream", name)),
		allowed:          allowed,
		demux:            demux,
		mu:               sync.Mutex{},
		state:            StateDisconnected,
		conn:             nil,
		queue:            nil,
		subscriptions:    make(map[string]struct{}),
		listenersMu:      sync.Mutex{},
		listeners:        make(map[string][]chan Event),
		listenersClosed:  false,
		eventBuffer:      o.eventBuffer,
	}
}

// URL returns the websocket URL the session dials.
func (s *Session) URL() string {
	return s.url
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Subscriptions returns the current subscription set, sorted.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.subscriptions))
	for channel := range s.subscriptions {
		out = append(out, channel)
	}

	sort.Strings(out)

	return out
}

// Pending returns the number of queued messages that wait for authorization.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// Listen returns a channel receiving every event published under name. The
// channel is closed when the session closes. Events are dropped when the
// channel buffer is full.
func (s *Session) Listen(name string) <-chan Event {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	ch := make(chan Event, s.eventBuffer)
	if s.listenersClosed {
		close(ch)

		return ch
	}

	s.listeners[name] = append(s.listeners[name], ch)

	return ch
}

// Connect dials the stream, authenticates and starts the read loop. It
// returns once the broker authorized the credentials, or with
// ErrCodeAuthenticationRejected when it did not. A reply that does not arrive
// before the handshake deadline fails with ErrCodeAuthenticationTimeout. ctx
// bounds only the handshake.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()

		return errors.Newf(errors.ErrCodeInvalidStreamState, "cannot connect %s stream in state %s", s.name, state)
	}

	s.state = StateConnecting
	s.mu.Unlock()

	if s.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.handshakeTimeout)

		defer cancel()
	}

	s.logger.Debug("Dialing stream", zap.String("url", s.url))

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.shutdown()

		return errors.Wrapf(errors.ErrCodeDialFailed, err, "failed to dial %s stream", s.name)
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		_ = conn.Close()

		return errors.Newf(errors.ErrCodeStreamClosed, "%s stream closed while connecting", s.name)
	}

	s.conn = conn
	s.mu.Unlock()

	s.publish(Event{Name: EventOpen})

	auth, err := json.Marshal(streamAction{
		Action: "authenticate",
		Data:   authData{KeyID: s.credentials.KeyID, SecretKey: s.credentials.SecretKey},
	})
	if err != nil {
		s.abort(conn)

		return errors.Wrap(errors.ErrCodeEncodeFailed, "failed to encode authentication frame", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, auth); err != nil {
		s.abort(conn)

		return errors.Wrapf(errors.ErrCodeStreamWriteFailed, err, "failed to send %s stream authentication", s.name)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	_, frame, err := conn.ReadMessage()
	if err != nil {
		s.abort(conn)

		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return errors.Wrapf(errors.ErrCodeAuthenticationTimeout, err, "no authentication reply on %s stream", s.name)
		}

		return errors.Wrapf(errors.ErrCodeStreamClosed, err, "%s stream closed before the authentication reply", s.name)
	}

	_ = conn.SetReadDeadline(time.Time{})

	s.dispatch(frame)

	if !isAuthorized(frame) {
		s.abort(conn)

		s.logger.Warn("Stream authentication rejected", zap.ByteString("reply", frame))

		return errors.Wrap(errors.ErrCodeAuthenticationRejected,
			fmt.Sprintf("%s stream authentication rejected", s.name),
			fmt.Errorf("unexpected payload: %s", frame))
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()

		return errors.Newf(errors.ErrCodeStreamClosed, "%s stream closed while authenticating", s.name)
	}

	s.state = StateAuthenticated
	queued := s.queue
	s.queue = nil

	var flushErr error

	for _, payload := range queued {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			flushErr = errors.Wrapf(errors.ErrCodeStreamWriteFailed, err, "failed to flush queued %s stream message", s.name)

			break
		}
	}
	s.mu.Unlock()

	if flushErr != nil {
		s.abort(conn)

		return flushErr
	}

	s.logger.Info("Stream authenticated", zap.Int("flushed", len(queued)))
	s.publish(Event{Name: EventAuthenticated})

	go s.readLoop(conn)

	return nil
}

// Send writes msg on the stream, or queues it until authorization. Strings
// and byte slices are sent verbatim, anything else is encoded as JSON.
func (s *Session) Send(msg any) error {
	payload, err := encodeStreamMessage(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sendLocked(payload)
}

// Subscribe adds the permitted channels that are not subscribed yet and
// sends one listen request for them. Nothing is sent when no channel is new.
func (s *Session) Subscribe(channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := make([]string, 0, len(channels))

	for _, channel := range channels {
		channel = strings.TrimSpace(channel)
		if channel == "" {
			continue
		}

		if !s.permitted(channel) {
			s.logger.Debug("Ignoring channel outside the allow-list", zap.String("channel", channel))

			continue
		}

		if _, ok := s.subscriptions[channel]; ok {
			continue
		}

		s.subscriptions[channel] = struct{}{}
		added = append(added, channel)
	}

	if len(added) == 0 {
		return nil
	}

	payload, err := json.Marshal(streamAction{Action: "listen", Data: streamsData{Streams: added}})
	if err != nil {
		return errors.Wrap(errors.ErrCodeEncodeFailed, "failed to encode listen frame", err)
	}

	return s.sendLocked(payload)
}

// Unsubscribe removes channels from the subscription set and sends one
// unlisten request for the channels that were actually removed.
func (s *Session) Unsubscribe(channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]string, 0, len(channels))

	for _, channel := range channels {
		channel = strings.TrimSpace(channel)
		if _, ok := s.subscriptions[channel]; !ok {
			continue
		}

		delete(s.subscriptions, channel)
		removed = append(removed, channel)
	}

	if len(removed) == 0 {
		return nil
	}

	payload, err := json.Marshal(streamAction{Action: "unlisten", Data: streamsData{Streams: removed}})
	if err != nil {
		return errors.Wrap(errors.ErrCodeEncodeFailed, "failed to encode unlisten frame", err)
	}

	return s.sendLocked(payload)
}

// Close terminates the connection. Listeners receive a close event and their
// channels are closed. Calling Close more than once is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()

		return nil
	}

	s.state = StateClosed
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.finish()

		return nil
	}

	// The read loop observes the closed connection and calls finish.
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	return conn.Close()
}

func (s *Session) sendLocked(payload []byte) error {
	switch s.state {
	case StateAuthenticated:
		if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return errors.Wrapf(errors.ErrCodeStreamWriteFailed, err, "failed to write %s stream message", s.name)
		}

		return nil
	case StateClosed:
		return errors.Newf(errors.ErrCodeStreamClosed, "%s stream is closed", s.name)
	default:
		s.queue = append(s.queue, payload)

		return nil
	}
}

func (s *Session) permitted(channel string) bool {
	if len(s.allowed) == 0 {
		return true
	}

	for _, pattern := range s.allowed {
		if pattern.MatchString(channel) {
			return true
		}
	}

	return false
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.finish()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			closing := s.State() == StateClosed
			if !closing && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Stream read failed", zap.Error(err))
				s.publish(Event{
					Name: EventError,
					Err:  errors.Wrapf(errors.ErrCodeStreamClosed, err, "%s stream read failed", s.name),
				})
			}

			s.mu.Lock()
			s.state = StateClosed
			s.mu.Unlock()

			_ = conn.Close()

			return
		}

		s.dispatch(frame)
	}
}

// dispatch publishes frame as a message event and then every typed event the
// demultiplexer derives from it.
func (s *Session) dispatch(frame []byte) {
	if !json.Valid(frame) {
		s.publish(Event{
			Name: EventError,
			Err:  errors.Newf(errors.ErrCodeDecodeFailed, "%s stream frame is not JSON: %s", s.name, frame),
		})

		return
	}

	raw := json.RawMessage(frame)
	s.publish(Event{Name: EventMessage, Data: raw})

	if s.demux == nil {
		return
	}

	for _, event := range s.demux(raw) {
		s.publish(event)
	}
}

func (s *Session) publish(event Event) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	if s.listenersClosed {
		return
	}

	for _, ch := range s.listeners[event.Name] {
		select {
		case ch <- event:
		default:
			s.logger.Warn("Dropping stream event, listener buffer is full", zap.String("event", event.Name))
		}
	}
}

// abort tears a half-open connection down after a failed handshake.
func (s *Session) abort(conn *websocket.Conn) {
	_ = conn.Close()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.finish()
}

// shutdown marks the session closed without a connection.
func (s *Session) shutdown() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.finish()
}

// finish publishes the close event once and closes every listener channel.
func (s *Session) finish() {
	s.publish(Event{Name: EventClose})

	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	if s.listenersClosed {
		return
	}

	s.listenersClosed = true

	for name, chans := range s.listeners {
		for _, ch := range chans {
			close(ch)
		}

		delete(s.listeners, name)
	}

	s.logger.Debug("Stream closed")
}

func encodeStreamMessage(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return bytes.Clone(v), nil
	case json.RawMessage:
		return bytes.Clone(v), nil
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeEncodeFailed, "failed to encode stream message", err)
		}

		return payload, nil
	}
}

func isAuthorized(frame []byte) bool {
	var reply authReply
	if err := json.Unmarshal(frame, &reply); err != nil {
		return false
	}

	return reply.Data.Status == "authorized"
}

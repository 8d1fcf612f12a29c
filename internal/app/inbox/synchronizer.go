package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"rentme-inbox/internal/domain/chat"
)

// ConnState is the lifecycle state of the realtime connection.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// SyncOptions tunes a Synchronizer.
type SyncOptions struct {
	// OnAuthRequired runs when Connect is attempted without a session token.
	OnAuthRequired func()
	Logger         *slog.Logger
}

// Synchronizer reconciles realtime pushes into the timeline. It owns no message state and
// never reconnects by itself: a new Channel is handed in through Attach.
type Synchronizer struct {
	timeline       *Timeline
	directory      *Directory
	onAuthRequired func()
	logger         *slog.Logger

	mu     sync.Mutex
	state  ConnState
	conn   Channel
	subs   []func()
	selfID string
}

// NewSynchronizer wires a synchronizer to the timeline it feeds. directory may be nil.
func NewSynchronizer(timeline *Timeline, directory *Directory, opts SyncOptions) *Synchronizer {
	return &Synchronizer{
		timeline:       timeline,
		directory:      directory,
		onAuthRequired: opts.OnAuthRequired,
		logger:         orDiscard(opts.Logger),
	}
}

// Connect dials a channel for session and attaches to it.
func (s *Synchronizer) Connect(ctx context.Context, session Session, dialer Dialer) error {
	if strings.TrimSpace(session.Token) == "" || strings.TrimSpace(session.UserID) == "" {
		s.logger.Error("realtime connect without session credentials")
		if s.onAuthRequired != nil {
			s.onAuthRequired()
		}
		return chat.ErrUnauthenticated
	}
	s.mu.Lock()
	s.state = Connecting
	s.mu.Unlock()

	conn, err := dialer.Dial(ctx, session.Token)
	if err != nil {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		return fmt.Errorf("dial realtime: %w", err)
	}
	s.Attach(conn, session.UserID)
	s.logger.Info("realtime connected", "user_id", session.UserID)
	return nil
}

// Attach subscribes to every event kind on conn, dropping any previous subscriptions first.
func (s *Synchronizer) Attach(conn Channel, selfID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
	if s.conn != nil && s.conn != conn {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("closing replaced channel", "error", err)
		}
	}
	s.conn = conn
	s.selfID = selfID
	s.subs = []func(){
		conn.Subscribe(EventMessageReceived, s.onReceived),
		conn.Subscribe(EventMessageSent, s.onSent),
		conn.Subscribe(EventMessageUpdated, s.onUpdated),
		conn.Subscribe(EventMessageDeleted, s.onDeleted),
	}
	s.state = Connected
}

// Detach removes all subscriptions but keeps the connection open.
func (s *Synchronizer) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
}

func (s *Synchronizer) detachLocked() {
	for _, unsubscribe := range s.subs {
		unsubscribe()
	}
	s.subs = nil
	if s.conn != nil {
		s.state = Disconnected
	}
}

// Close detaches and closes the connection.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
	conn := s.conn
	s.conn = nil
	s.state = Disconnected
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Channel returns the attached channel, nil when disconnected.
func (s *Synchronizer) Channel() Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return nil
	}
	return s.conn
}

func (s *Synchronizer) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscriptions returns the number of live event subscriptions.
func (s *Synchronizer) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Synchronizer) self() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

func (s *Synchronizer) onReceived(ev Event) {
	msg := ev.Message
	msg.Sending = false
	self := s.self()
	if s.directory != nil {
		s.directory.NoteIncoming(msg, self)
	}
	if !msg.BelongsTo(s.timeline.Key(), self) {
		s.logger.Debug("incoming message for another conversation", "message_id", msg.ID)
		return
	}
	s.timeline.Apply(Append(msg))
}

func (s *Synchronizer) onSent(ev Event) {
	msg := ev.Message
	if msg.TempID == "" || msg.ID == "" {
		s.logger.Warn("send ack without correlation ids", "message_id", msg.ID, "temp_id", msg.TempID)
		return
	}
	if !s.timeline.Apply(Ack(msg.TempID, msg)) {
		s.logger.Debug("send ack for unknown pending entry", "temp_id", msg.TempID)
		return
	}
	if s.directory != nil {
		s.directory.NoteIncoming(msg, s.self())
	}
}

func (s *Synchronizer) onUpdated(ev Event) {
	if ev.Message.ID == "" {
		return
	}
	s.timeline.Apply(Update(ev.Message))
}

func (s *Synchronizer) onDeleted(ev Event) {
	if ev.MessageID == "" {
		return
	}
	s.timeline.Apply(Delete(ev.MessageID))
}

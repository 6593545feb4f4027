package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goalduel/server/internal/auth"
	"github.com/goalduel/server/internal/config"
	"github.com/goalduel/server/internal/game"
	"github.com/goalduel/server/internal/model"
)

// UserResolver checks that a token's subject exists. Nil in db-less mode.
type UserResolver interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// Server accepts websocket attaches on /ws, authenticates them and runs the
// per-connection read loop. All game semantics live in the orchestrator.
type Server struct {
	cfg      config.Server
	verifier auth.Verifier
	users    UserResolver
	orch     *game.Orchestrator
	handler  *Handler
	sessions *SessionRegistry

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu       sync.Mutex
	draining bool
}

// New wires the transport layer. users may be nil when persistence is off.
func New(cfg config.Server, verifier auth.Verifier, users UserResolver, orch *game.Orchestrator) *Server {
	s := &Server{
		cfg:      cfg,
		verifier: verifier,
		users:    users,
		orch:     orch,
		handler:  NewHandler(orch),
		sessions: NewSessionRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients connect from arbitrary origins (native and web builds).
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:    net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port)),
		Handler: mux,
	}
	return s
}

// Sessions exposes the session registry for tests.
func (s *Server) Sessions() *SessionRegistry { return s.sessions }

// Run serves until ctx is cancelled, then drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Shutdown(shutdownCtx)
	return <-errCh
}

// Shutdown drains: stops accepting attaches, aborts all matches as
// abandoned, notifies every session and closes the listener.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	slog.Info("draining", "sessions", s.sessions.Count())

	// Seated sessions hear server_shutdown from the orchestrator broadcast;
	// the rest are told here so nobody is closed silently.
	s.sessions.ForEach(func(sess *Session) bool {
		if sess.RoomID() == "" {
			_ = sess.Send(game.MustMessage(game.KindServerShutdown, struct{}{}))
		}
		return true
	})

	s.orch.Shutdown(ctx)

	s.sessions.ForEach(func(sess *Session) bool {
		sess.Close()
		return true
	})

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// handleWS upgrades, authenticates and runs the session to completion.
// Auth failures are reported as error events over the socket so web
// clients get a readable code instead of an opaque handshake failure.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	draining := s.draining
	s.mu.Unlock()
	if draining {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	principal, err := s.authenticate(r)
	if err != nil {
		code := game.CodeAuthInvalid
		if errors.Is(err, auth.ErrNoToken) {
			code = game.CodeAuthRequired
		}
		slog.Info("attach rejected", "remote", r.RemoteAddr, "code", code)
		s.rejectConn(conn, code, err.Error())
		return
	}

	sess := NewSession(conn, principal, s.cfg.SendQueueSize, s.cfg.WriteTimeout)
	if err := s.sessions.Attach(sess); err != nil {
		slog.Info("attach rejected", "user", principal.UserID, "code", game.CodeAlreadyConnected)
		s.rejectConn(conn, game.CodeAlreadyConnected, err.Error())
		return
	}

	slog.Info("session attached",
		"session", sess.ID(),
		"user", principal.UserID,
		"wallet", principal.Wallet,
		"remote", r.RemoteAddr)

	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	go sess.writePump(readTimeout * 9 / 10)

	if err := sess.Send(game.MustMessage(game.KindWelcome, game.WelcomePayload{
		SessionID:     sess.ID(),
		Authenticated: true,
	})); err != nil {
		slog.Warn("welcome not delivered", "session", sess.ID(), "error", err)
	}

	s.readLoop(r.Context(), sess, readTimeout)
	s.detach(sess)
}

// authenticate extracts and verifies the bearer token, then checks that
// the subject is a known user when a resolver is configured.
func (s *Server) authenticate(r *http.Request) (auth.Principal, error) {
	token, err := auth.TokenFromRequest(r)
	if err != nil {
		return auth.Principal{}, err
	}
	principal, err := s.verifier.Verify(token)
	if err != nil {
		return auth.Principal{}, err
	}

	if s.users != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		u, err := s.users.GetByID(ctx, principal.UserID)
		if err != nil {
			return auth.Principal{}, fmt.Errorf("resolving user %s: %w", principal.UserID, err)
		}
		if u == nil {
			return auth.Principal{}, fmt.Errorf("%w: unknown user", auth.ErrInvalidToken)
		}
	}
	return principal, nil
}

// rejectConn sends a single error event and closes the raw connection.
// Used before a session exists, so it writes directly.
func (s *Server) rejectConn(conn *websocket.Conn, code, text string) {
	data, err := json.Marshal(game.ErrorMessage(code, text))
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.Close()
}

// readLoop pulls frames until the peer goes away or the session is closed.
func (s *Server) readLoop(ctx context.Context, sess *Session, readTimeout time.Duration) {
	conn := sess.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("read ended", "session", sess.ID(), "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.handler.Handle(ctx, sess, data)
	}
}

// detach finalizes a departed session: registry removal, room leave with
// the recorded reason, connection teardown.
func (s *Server) detach(sess *Session) {
	s.sessions.Detach(sess.ID())

	reason := sess.CloseReason()
	switch reason {
	case "", "closed", "write_error":
		reason = "disconnect"
	}

	if sess.RoomID() != "" {
		if err := s.orch.Leave(sess, reason); err != nil && !errors.Is(err, game.ErrNotInRoom) {
			slog.Warn("leave on disconnect", "session", sess.ID(), "error", err)
		}
		sess.ClearSeat()
	}

	sess.Close()
	slog.Info("session detached", "session", sess.ID(), "user", sess.UserID(), "reason", reason)
}

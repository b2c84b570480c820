// Package interactive adapts github.com/gorilla/websocket to the
// channels.Adapter contract, serving the interactive terminal socket
// transport named in spec.md §1.
package interactive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaymesh/switchboard/internal/channels"
	"github.com/relaymesh/switchboard/internal/switchmodels"
)

const channelType = "interactive"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Adapter serves one websocket connection per session key, each
// identified by a client-supplied `session` query parameter.
type Adapter struct {
	addr     string
	logger   *slog.Logger
	messages chan switchmodels.IncomingMessage

	mu      sync.Mutex
	conns   map[string]*websocket.Conn
	server  *http.Server
	status  channels.Status
}

// New builds an interactive websocket Adapter listening on addr.
func New(addr string) *Adapter {
	return &Adapter{
		addr:     addr,
		logger:   slog.Default().With("component", "channels.interactive"),
		messages: make(chan switchmodels.IncomingMessage, 64),
		conns:    make(map[string]*websocket.Conn),
	}
}

func (a *Adapter) Type() string { return channelType }

func (a *Adapter) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.handleWS)
	a.server = &http.Server{Addr: a.addr, Handler: mux}

	ln := a.server
	go func() {
		if err := ln.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("interactive server stopped", "error", err)
		}
	}()

	a.mu.Lock()
	a.status = channels.Status{Connected: true, LastPing: time.Now()}
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = a.server.Close()
	}()
	return nil
}

func (a *Adapter) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionKey := r.URL.Query().Get("session")
	if sessionKey == "" {
		http.Error(w, "missing session query parameter", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	a.mu.Lock()
	a.conns[sessionKey] = conn
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.conns, sessionKey)
		a.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg := switchmodels.IncomingMessage{
			Channel:    channelType,
			From:       sessionKey,
			To:         sessionKey,
			Peer:       sessionKey,
			Text:       string(data),
			SessionKey: fmt.Sprintf("interactive:%s", sessionKey),
		}
		a.messages <- msg
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, conn := range a.conns {
		_ = conn.Close()
		delete(a.conns, key)
	}
	if a.server != nil {
		_ = a.server.Close()
	}
	a.status = channels.Status{Connected: false}
	close(a.messages)
	return nil
}

func (a *Adapter) Send(ctx context.Context, msg channels.OutgoingMessage) error {
	a.mu.Lock()
	conn, ok := a.conns[msg.To]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("interactive: no open connection for session %q", msg.To)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Content)); err != nil {
		return fmt.Errorf("interactive: write message: %w", err)
	}
	return nil
}

func (a *Adapter) Messages() <-chan switchmodels.IncomingMessage { return a.messages }

func (a *Adapter) Status() channels.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	status := a.Status()
	return channels.HealthStatus{Healthy: status.Connected, LastCheck: time.Now(), Message: status.Error}
}

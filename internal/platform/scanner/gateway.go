// Package scanner provides a real-time gateway for barcode scanning
// hardware. Scanner stations connect over WebSocket, attach to a
// verification session, and push decoded scan tokens or raw keyboard-wedge
// keystrokes. Session state changes are broadcast back to every station
// attached to that session.
package scanner

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Event is a session state change pushed to attached stations.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StationMessage is an inbound frame from a scanner station.
//
// Actions:
//
//	attach / detach - subscribe the station to session events
//	scan            - a complete token decoded by the scanner hardware
//	key             - a single keystroke from a keyboard-wedge scanner
type StationMessage struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
	Token     string `json:"token,omitempty"`
	Key       string `json:"key,omitempty"`
}

// Router receives scan input destined for a verification session.
type Router interface {
	// RouteScan delivers a complete decoded token to the session.
	RouteScan(ctx context.Context, sessionID, token string) error
	// RouteKey delivers one keyboard-wedge keystroke to the session.
	// The session's own buffer decides when a token is complete.
	RouteKey(ctx context.Context, sessionID, key string) error
}

// Station represents a single connected scanner station.
type Station struct {
	ID       string
	Sessions []string
	Send     chan []byte
}

// Gateway tracks connected stations and their session attachments, routes
// inbound scan frames to the Router, and fans session events back out.
// All operations are thread-safe via sync.RWMutex.
type Gateway struct {
	mu       sync.RWMutex
	sessions map[string]map[*Station]struct{} // session id -> attached stations
	all      map[*Station]struct{}
	router   Router
	log      zerolog.Logger
}

// NewGateway creates a Gateway that forwards scan input to the router.
func NewGateway(router Router, log zerolog.Logger) *Gateway {
	return &Gateway{
		sessions: make(map[string]map[*Station]struct{}),
		all:      make(map[*Station]struct{}),
		router:   router,
		log:      log,
	}
}

// Register adds a station to the gateway.
func (g *Gateway) Register(s *Station) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.all[s] = struct{}{}

	for _, id := range s.Sessions {
		if g.sessions[id] == nil {
			g.sessions[id] = make(map[*Station]struct{})
		}
		g.sessions[id][s] = struct{}{}
	}
}

// Unregister removes a station, detaches it from every session, and closes
// its Send channel.
func (g *Gateway) Unregister(s *Station) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.all[s]; !ok {
		return
	}

	for _, id := range s.Sessions {
		if attached, ok := g.sessions[id]; ok {
			delete(attached, s)
			if len(attached) == 0 {
				delete(g.sessions, id)
			}
		}
	}

	delete(g.all, s)
	close(s.Send)
}

// Attach subscribes an already-registered station to a session's events.
func (g *Gateway) Attach(s *Station, sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sessions[sessionID] == nil {
		g.sessions[sessionID] = make(map[*Station]struct{})
	}
	g.sessions[sessionID][s] = struct{}{}
	s.Sessions = append(s.Sessions, sessionID)
}

// Detach unsubscribes a station from a session's events.
func (g *Gateway) Detach(s *Station, sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if attached, ok := g.sessions[sessionID]; ok {
		delete(attached, s)
		if len(attached) == 0 {
			delete(g.sessions, sessionID)
		}
	}

	remaining := make([]string, 0, len(s.Sessions))
	for _, id := range s.Sessions {
		if id != sessionID {
			remaining = append(remaining, id)
		}
	}
	s.Sessions = remaining
}

// ProcessMessage handles one inbound station frame.
func (g *Gateway) ProcessMessage(ctx context.Context, s *Station, msg StationMessage) {
	switch msg.Action {
	case "attach":
		g.Attach(s, msg.SessionID)
	case "detach":
		g.Detach(s, msg.SessionID)
	case "scan":
		if err := g.router.RouteScan(ctx, msg.SessionID, msg.Token); err != nil {
			g.sendError(s, msg.SessionID, err)
		}
	case "key":
		if err := g.router.RouteKey(ctx, msg.SessionID, msg.Key); err != nil {
			g.sendError(s, msg.SessionID, err)
		}
	}
}

func (g *Gateway) sendError(s *Station, sessionID string, err error) {
	data, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return
	}
	ev := Event{Type: "error", SessionID: sessionID, Timestamp: time.Now().UTC(), Data: data}
	payload, merr := json.Marshal(ev)
	if merr != nil {
		return
	}
	select {
	case s.Send <- payload:
	default:
	}
}

// Broadcast sends an event to every station attached to its session.
func (g *Gateway) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		g.log.Error().Err(err).Msg("scanner: failed to marshal event")
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	attached, ok := g.sessions[event.SessionID]
	if !ok {
		return
	}

	for s := range attached {
		select {
		case s.Send <- data:
		default:
			// Station buffer full; skip to avoid blocking.
		}
	}
}

// SessionEvent packages a session state change and broadcasts it. The
// payload is marshaled here so callers stay decoupled from the wire shape.
func (g *Gateway) SessionEvent(sessionID, eventType string, payload interface{}) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			g.log.Error().Err(err).Msg("scanner: failed to marshal event payload")
			return
		}
		data = b
	}
	g.Broadcast(Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// StationCount returns the total number of connected stations.
func (g *Gateway) StationCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.all)
}

// SessionStationCount returns the number of stations attached to a session.
func (g *Gateway) SessionStationCount(sessionID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions[sessionID])
}

// ---------------------------------------------------------------------------
// Handler — Echo HTTP handler for station connections
// ---------------------------------------------------------------------------

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler handles HTTP-to-WebSocket upgrades for scanner stations.
type Handler struct {
	gateway *Gateway
}

// NewHandler creates a handler bound to the given Gateway.
func NewHandler(gateway *Gateway) *Handler {
	return &Handler{gateway: gateway}
}

// RegisterRoutes registers the station endpoint on the provided Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/scanner/ws", h.HandleConnect)
}

// HandleConnect upgrades the connection, registers the station, and starts
// the read/write pumps.
func (h *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	station := &Station{
		ID:       uuid.New().String(),
		Sessions: []string{},
		Send:     make(chan []byte, 256),
	}

	h.gateway.Register(station)

	ctx := c.Request().Context()
	go h.writePump(station, ws)
	go h.readPump(ctx, station, ws)

	return nil
}

func (h *Handler) readPump(ctx context.Context, station *Station, ws *gorillawebsocket.Conn) {
	defer func() {
		h.gateway.Unregister(station)
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var msg StationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Ignore malformed frames.
		}

		h.gateway.ProcessMessage(ctx, station, msg)
	}
}

func (h *Handler) writePump(station *Station, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range station.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}

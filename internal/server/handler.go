// Package server implements the per-connection protocol handler: the text
// command state machine, the idle-timeout watchdog, and unconditional
// cleanup of room membership and connection resources.
package server

import (
	"log"
	"strings"
	"sync/atomic"
	"time"
)

// watchdogInterval bounds how far past the idle window a dead connection can
// survive before the watchdog closes it.
const watchdogInterval = 5 * time.Second

var helpLines = []string{
	"## Available commands: ##",
	"auth <username> <password> - Authenticate or register",
	"reconnect <token> - Resume a session with a previously issued token",
	"join <room> - Join or create a room",
	"msg <message> - Send a message to the current room",
	"leave - Leave current room",
	"list - List all rooms",
	"who - List room participants",
	"ping - Liveness probe",
	"help - Show this message",
	"quit - Exit chat",
	"If you want a room with an AI, use: join AI:<roomname>",
	"####################################",
}

var aiLoungeLines = []string{
	"**************************",
	"Welcome to the AI lounge!",
	"**************************",
	"Here you can create your own AI room.",
	"The AI is listening to the conversation, but if you want it to chime in, call it with @AI!",
	"Usage: join AI:<roomname>",
}

// ConnHandler drives one client connection through the protocol state
// machine: unauthenticated, authenticated without a room, authenticated in a
// room. Each handler owns its participant sink exclusively; rooms only hold
// a reference to it.
type ConnHandler struct {
	conn     LineConn
	registry *Registry
	auth     *AuthManager
	cfg      *Config

	participant *Participant
	token       string
	room        *Room

	limiter      *rateLimiter
	lastActivity atomic.Int64
	done         chan struct{}
}

// NewConnHandler creates a handler for an accepted connection sharing the
// given registry and store.
func NewConnHandler(conn LineConn, registry *Registry, auth *AuthManager, cfg *Config) *ConnHandler {
	return &ConnHandler{
		conn:        conn,
		registry:    registry,
		auth:        auth,
		cfg:         cfg,
		participant: NewParticipant("", 256),
		limiter:     newRateLimiter(cfg.RateLimit),
		done:        make(chan struct{}),
	}
}

// Run serves the connection until the client quits, the peer disconnects, or
// the watchdog closes an idle connection. Cleanup always runs on exit.
func (h *ConnHandler) Run() {
	defer h.cleanup()

	h.touch()
	go h.writeLoop()
	go h.watchdog()

	h.send("Welcome to the chat server! Type 'help' for a list of commands.")

	for {
		line, err := h.conn.ReadLine()
		if err != nil {
			log.Printf("Client %s disconnected: %v", h.conn.RemoteAddr(), err)
			return
		}
		h.touch()
		if !h.handleCommand(line) {
			return
		}
	}
}

// writeLoop drains the participant sink to the connection. Handler replies
// and room broadcasts share the sink, so a participant observes its own
// events in room order.
func (h *ConnHandler) writeLoop() {
	for line := range h.participant.Lines() {
		if err := h.conn.WriteLine(line); err != nil {
			log.Printf("Write to %s failed: %v", h.conn.RemoteAddr(), err)
			// Unblock the read loop; remaining lines drain on close.
			_ = h.conn.Close()
			return
		}
	}
}

// watchdog closes the connection when no command has arrived within the idle
// window. The read loop observes the close as an I/O failure and cleans up.
func (h *ConnHandler) watchdog() {
	interval := watchdogInterval
	if half := h.cfg.IdleTimeout / 2; half < interval {
		interval = half
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, h.lastActivity.Load()))
			if idle > h.cfg.IdleTimeout {
				log.Printf("Client %s timed out after %s of inactivity", h.conn.RemoteAddr(), idle.Round(time.Second))
				_ = h.conn.Close()
				return
			}
		}
	}
}

func (h *ConnHandler) touch() {
	h.lastActivity.Store(time.Now().UnixNano())
}

func (h *ConnHandler) send(line string) {
	if !h.participant.offer(line) {
		log.Printf("Dropping reply for %s: sink unavailable", h.conn.RemoteAddr())
	}
}

func (h *ConnHandler) sendAll(lines []string) {
	for _, line := range lines {
		h.send(line)
	}
}

// cleanup releases everything the handler owns, on every exit path: room
// membership first, then the sink, then the socket. The session's room
// reference is deliberately left intact so a reconnect can restore it.
func (h *ConnHandler) cleanup() {
	close(h.done)

	if h.room != nil {
		h.room.RemoveParticipant(h.participant)
		h.room = nil
	}
	h.participant.Close()
	if err := h.conn.Close(); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error closing connection from %s: %v", h.conn.RemoteAddr(), err)
	}
}

// handleCommand dispatches one protocol line. It returns false when the
// session loop should end.
func (h *ConnHandler) handleCommand(line string) bool {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToLower(parts[0])
	args := ""
	if len(parts) > 1 {
		args = parts[1]
	}

	switch cmd {
	case "auth":
		h.handleAuth(args)
	case "reconnect":
		h.handleReconnect(strings.TrimSpace(args))
	case "ping":
		h.send("PONG")
	case "join":
		if h.isAuthenticated() {
			h.handleJoin(strings.TrimSpace(args))
		}
	case "msg":
		if h.isAuthenticated() {
			h.handleMsg(args)
		}
	case "leave":
		h.handleLeave()
	case "list":
		h.handleList()
	case "who":
		if h.isAuthenticated() {
			h.handleWho()
		}
	case "help":
		h.sendAll(helpLines)
	case "quit":
		h.send("Goodbye!")
		return false
	default:
		h.send("Unknown command " + cmd)
	}
	return true
}

func (h *ConnHandler) handleAuth(args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		h.send("Invalid format, please use: auth <username> <password>")
		return
	}
	username, password := fields[0], fields[1]

	result, err := h.auth.AuthenticateOrRegister(username, password)
	if err != nil {
		log.Printf("Authentication error for %s: %v", h.conn.RemoteAddr(), err)
		h.send("AUTH_FAILURE Authentication error")
		return
	}

	switch result {
	case AuthAccepted:
		h.bindIdentity(username)
		h.send("Welcome back, " + username)
		h.send("TOKEN " + h.token)
	case AuthNewUser:
		h.bindIdentity(username)
		h.send("Account created. Welcome, " + username)
		h.send("TOKEN " + h.token)
	case AuthWrongPassword:
		h.send("AUTH_FAILURE Incorrect password")
	}
}

func (h *ConnHandler) bindIdentity(username string) {
	h.participant.setName(username)
	h.token = h.auth.IssueToken(username)
}

func (h *ConnHandler) handleReconnect(token string) {
	if !h.auth.Validate(token) {
		h.send("Invalid or expired token")
		return
	}
	session, err := h.auth.SessionFor(token)
	if err != nil {
		h.send("Invalid or expired token")
		return
	}

	// Adopting another session means abandoning the current membership,
	// announced under the current name before the rebind.
	if h.room != nil && h.room != session.Room {
		h.room.RemoveParticipant(h.participant)
		h.room = nil
	}

	h.token = token
	h.participant.setName(session.Username)
	h.send("Reconnection successful as " + session.Username)

	if session.Room == nil {
		h.send("Reconnected successfully, but you were not in any room.")
		return
	}
	session.Room.AddParticipant(h.participant)
	h.room = session.Room
	h.send("Reconnected to room " + session.Room.Name())
}

// isAuthenticated gates the privileged commands. The token is revalidated on
// every use: a token that expired mid-session blocks further privileged
// commands even though the socket stays open.
func (h *ConnHandler) isAuthenticated() bool {
	if h.participant.Name() == "" || h.token == "" {
		h.send("You are not authenticated. Please authenticate first.")
		return false
	}
	if !h.auth.Validate(h.token) {
		h.send("EXPIRED Session expired. Please authenticate again.")
		return false
	}
	return true
}

func (h *ConnHandler) handleJoin(target string) {
	if target == "" {
		h.send("Usage: join <room>")
		return
	}

	flavor := FlavorPlain
	name := target
	if strings.HasPrefix(target, "AI") {
		aiParts := strings.SplitN(target, ":", 2)
		if len(aiParts) != 2 || strings.TrimSpace(aiParts[1]) == "" {
			h.sendAll(aiLoungeLines)
			return
		}
		name = strings.TrimSpace(aiParts[1])
		flavor = FlavorAI
	}

	room := h.registry.GetOrCreate(name, flavor)
	if h.room != nil && h.room != room {
		h.room.RemoveParticipant(h.participant)
	}

	h.send("Joined room: " + room.Name())
	room.AddParticipant(h.participant)
	h.room = room
	if err := h.auth.UpdateRoom(h.token, room); err != nil {
		log.Printf("Failed to record room for %s: %v", h.participant.Name(), err)
	}
}

func (h *ConnHandler) handleMsg(text string) {
	if h.room == nil {
		h.send("Not in any room")
		return
	}
	if !h.limiter.allow() {
		h.send("Rate limit exceeded; message discarded")
		return
	}
	h.room.AddMessage(Message{Sender: h.participant.Name(), Content: text})
}

func (h *ConnHandler) handleLeave() {
	if h.participant.Name() == "" {
		h.send("You are not authenticated. Please authenticate first and enter a room.")
		return
	}
	if h.room == nil {
		h.send("Currently, you are not in any room. Type 'leave' when you are in a room to leave it.")
		return
	}

	room := h.room
	room.RemoveParticipant(h.participant)
	h.room = nil
	h.send("You just left room " + room.Name())
	if err := h.auth.UpdateRoom(h.token, nil); err != nil {
		log.Printf("Failed to clear room for %s: %v", h.participant.Name(), err)
	}
}

func (h *ConnHandler) handleList() {
	names := h.registry.Names()
	if len(names) == 0 {
		h.send("No rooms available")
		return
	}

	h.send("Available rooms:")
	for _, name := range names {
		if room := h.registry.Get(name); room != nil && room.Flavor() == FlavorAI {
			h.send(name + " (AI)")
			continue
		}
		h.send(name)
	}
}

func (h *ConnHandler) handleWho() {
	if h.room == nil {
		h.send("Not in any room")
		return
	}

	h.send("Room participants:")
	for _, username := range h.room.Participants() {
		h.send(username)
	}
}

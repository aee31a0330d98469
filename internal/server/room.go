// Package server implements chat rooms: participant sets, bounded message
// history, and lock-ordered broadcast fan-out.
package server

import (
	"log"
	"sort"
	"sync"
)

// RoomFlavor distinguishes plain broadcast rooms from AI-augmented ones.
type RoomFlavor int

const (
	// FlavorPlain is an ordinary broadcast room.
	FlavorPlain RoomFlavor = iota
	// FlavorAI is a room with the inference interceptor attached.
	FlavorAI
)

// MessageInterceptor observes every message added to a room, after the
// message has been historized and broadcast. The AI responder is the one
// implementation; plain rooms have none.
type MessageInterceptor interface {
	OnMessage(msg Message)
}

// Participant is a live connection's identity inside a room: a username plus
// an owned outbound line sink. The owning connection handler drains the sink;
// a room only ever offers lines to it. The name is read by room goroutines,
// so it lives behind the mutex with the sink state.
type Participant struct {
	mu       sync.Mutex
	username string
	lines    chan string
	closed   bool
}

// NewParticipant creates a participant whose sink buffers up to buffer lines.
func NewParticipant(username string, buffer int) *Participant {
	if buffer <= 0 {
		buffer = 256
	}
	return &Participant{
		username: username,
		lines:    make(chan string, buffer),
	}
}

// Name returns the participant's current display name.
func (p *Participant) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.username
}

// setName rebinds the display name. Only authentication and reconnect call
// this, and only for a participant they own.
func (p *Participant) setName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.username = name
}

// Lines exposes the sink for the owning handler's writer loop.
func (p *Participant) Lines() <-chan string {
	return p.lines
}

// offer attempts a non-blocking delivery. It reports false when the sink is
// closed or full; a full sink means the owner is too slow and the line is
// dropped for this participant only.
func (p *Participant) offer(line string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	select {
	case p.lines <- line:
		return true
	default:
		return false
	}
}

// Close shuts the sink. Safe to call once the owner's writer loop is done;
// later offers report failure instead of panicking.
func (p *Participant) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.lines)
	}
}

// Room is a named broadcast group. Participant mutation, history append, and
// fan-out all happen under one mutex so every participant observes
// join/leave/message events in the same relative order. Rooms are never
// destroyed during the process lifetime.
type Room struct {
	name   string
	flavor RoomFlavor

	mu           sync.Mutex
	participants map[*Participant]struct{}
	history      []Message
	historyLimit int
	interceptor  MessageInterceptor
}

// NewRoom creates an empty plain room retaining at most historyLimit messages.
func NewRoom(name string, historyLimit int) *Room {
	if historyLimit <= 0 {
		historyLimit = 256
	}
	return &Room{
		name:         name,
		flavor:       FlavorPlain,
		participants: make(map[*Participant]struct{}),
		historyLimit: historyLimit,
	}
}

// Name returns the room's unique, case-sensitive name.
func (r *Room) Name() string {
	return r.name
}

// Flavor reports whether the room is plain or AI-augmented.
func (r *Room) Flavor() RoomFlavor {
	return r.flavor
}

// SetInterceptor installs the inbound-message interceptor and marks the room
// AI-flavored. Called once by the registry before the room is shared.
func (r *Room) SetInterceptor(i MessageInterceptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interceptor = i
	r.flavor = FlavorAI
}

// AddParticipant inserts the participant and announces the join. Inserting a
// participant that is already present is a no-op.
func (r *Room) AddParticipant(p *Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[p]; ok {
		return
	}
	r.participants[p] = struct{}{}
	r.broadcastLocked(SystemMessage("Hey, " + p.Name() + " just joined the chat room " + r.name + "!"))
}

// RemoveParticipant removes the participant and announces the leave.
// Idempotent: removing an absent participant does nothing and announces
// nothing.
func (r *Room) RemoveParticipant(p *Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[p]; !ok {
		return
	}
	delete(r.participants, p)
	r.broadcastLocked(SystemMessage(p.Name() + " left the room"))
}

// AddMessage appends the message to history and broadcasts it to every
// current participant. Broadcast order equals call order under the room
// mutex. The interceptor, if any, sees the message after the mutex is
// released so a slow pipeline can never stall the room.
func (r *Room) AddMessage(msg Message) {
	r.mu.Lock()
	r.appendHistoryLocked(msg)
	r.broadcastLocked(msg)
	interceptor := r.interceptor
	r.mu.Unlock()

	if interceptor != nil {
		interceptor.OnMessage(msg)
	}
}

// Broadcast fans the message out to every participant without recording it in
// history. Used for transient presence indicators.
func (r *Room) Broadcast(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(msg)
}

func (r *Room) appendHistoryLocked(msg Message) {
	r.history = append(r.history, msg)
	if len(r.history) > r.historyLimit {
		// Bounded retention: discard the oldest entries in place.
		overflow := len(r.history) - r.historyLimit
		r.history = append(r.history[:0], r.history[overflow:]...)
	}
}

func (r *Room) broadcastLocked(msg Message) {
	line := msg.Format()
	for p := range r.participants {
		if !p.offer(line) {
			log.Printf("Dropping message for slow or closed participant %s in room %s", p.Name(), r.name)
		}
	}
}

// History returns a snapshot of the retained messages in receipt order.
func (r *Room) History() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.history...)
}

// Participants returns the usernames currently present, sorted for stable
// output.
func (r *Room) Participants() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.participants))
	for p := range r.participants {
		names = append(names, p.Name())
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

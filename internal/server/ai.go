// Package server implements the AI responder pipeline attached to
// AI-augmented rooms: marker filtering, a FIFO request queue with a single
// consumer, presence indication, and degradation to system messages on
// backend failure.
package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/relaychat/internal/llm"
)

// aiMarker triggers inference when a message's lower-cased content starts
// with it.
const aiMarker = "@ai"

// AIResponder intercepts marked room messages and answers them through the
// inference backend, strictly one at a time in arrival order. It never delays
// ordinary posting or broadcast: enqueueing is non-blocking and the consumer
// runs on its own goroutine.
type AIResponder struct {
	room   *Room
	client llm.Client
	queue  chan Message

	inferenceTimeout time.Duration
	thinkingInterval time.Duration
}

// NewAIResponder creates a responder for the given room. Run must be started
// on its own goroutine for messages to be answered.
func NewAIResponder(room *Room, client llm.Client, cfg AIConfig) *AIResponder {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	inferenceTimeout := cfg.InferenceTimeout
	if inferenceTimeout <= 0 {
		inferenceTimeout = 30 * time.Second
	}
	thinkingInterval := cfg.ThinkingInterval
	if thinkingInterval <= 0 {
		thinkingInterval = 5 * time.Second
	}

	return &AIResponder{
		room:             room,
		client:           client,
		queue:            make(chan Message, queueSize),
		inferenceTimeout: inferenceTimeout,
		thinkingInterval: thinkingInterval,
	}
}

// OnMessage implements MessageInterceptor. The triggering message has already
// been historized and broadcast by the room; here it is only queued for
// inference. A saturated queue drops the request, never the chat message.
func (a *AIResponder) OnMessage(msg Message) {
	if !strings.HasPrefix(strings.ToLower(msg.Content), aiMarker) {
		return
	}

	select {
	case a.queue <- msg:
	default:
		log.Printf("AI queue full in room %s; dropping inference request", a.room.Name())
	}
}

// Run drains the queue until the context is canceled. It blocks while the
// queue is empty; at most one inference is in flight per room.
func (a *AIResponder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.queue:
			a.respond(ctx, msg)
		}
	}
}

func (a *AIResponder) respond(ctx context.Context, msg Message) {
	stopThinking := a.startThinking()
	defer stopThinking()

	prompt := a.buildPrompt(msg)

	inferCtx, cancel := context.WithTimeout(ctx, a.inferenceTimeout)
	defer cancel()

	response, err := a.client.Complete(inferCtx, prompt)
	if err != nil {
		log.Printf("Inference failed in room %s: %v", a.room.Name(), err)
		a.room.AddMessage(SystemMessage("Error getting AI response: " + err.Error()))
		return
	}

	a.room.AddMessage(Message{Sender: AISender, Content: response})
}

// startThinking broadcasts a periodic presence indicator until the returned
// stop function is called. The indicator is broadcast only, never historized.
func (a *AIResponder) startThinking() func() {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(a.thinkingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				a.room.Broadcast(SystemMessage("AI is thinking..."))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// buildPrompt combines the triggering message with the room's prior history.
// The final history entry is the trigger itself and is excluded so it is not
// duplicated. A room with no prior history yields a well-formed empty-history
// prompt.
func (a *AIResponder) buildPrompt(msg Message) string {
	var prompt strings.Builder

	fmt.Fprintf(&prompt, "%s just said ''%s''\n", msg.Sender, msg.Content)
	prompt.WriteString("The chat history is as follows:\n")

	history := a.room.History()
	if len(history) > 0 {
		history = history[:len(history)-1]
	}
	for _, entry := range history {
		fmt.Fprintf(&prompt, "%s said ''%s''\n", entry.Sender, entry.Content)
	}

	return prompt.String()
}

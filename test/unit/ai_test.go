package unit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/test/testhelpers"
)

func newAIRoom(t *testing.T, fake *testhelpers.FakeLLM) *server.Room {
	t.Helper()

	room := server.NewRoom("ai-demo", 64)
	responder := server.NewAIResponder(room, fake, server.AIConfig{
		InferenceTimeout: 500 * time.Millisecond,
		ThinkingInterval: 20 * time.Millisecond,
		QueueSize:        16,
	})
	room.SetInterceptor(responder)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go responder.Run(ctx)

	return room
}

func waitForHistory(t *testing.T, room *server.Room, want int) []server.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if history := room.History(); len(history) >= want {
			return history
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d history entries; have %v", want, room.History())
	return nil
}

// TestMarkerTriggersResponse verifies the full AI path: the trigger is
// broadcast immediately, and the AI reply is historized through the room.
func TestMarkerTriggersResponse(t *testing.T) {
	fake := &testhelpers.FakeLLM{Response: "the answer is 42"}
	room := newAIRoom(t, fake)

	observer := server.NewParticipant("observer", 64)
	room.AddParticipant(observer)

	room.AddMessage(server.Message{Sender: "alice", Content: "@AI what is the answer?"})

	history := waitForHistory(t, room, 2)
	if history[0].Content != "@AI what is the answer?" {
		t.Errorf("Trigger missing from history: %v", history)
	}
	last := history[len(history)-1]
	if last.Sender != server.AISender || last.Content != "the answer is 42" {
		t.Errorf("Expected AI reply as last history entry, got %+v", last)
	}
}

// TestMarkerCaseInsensitive verifies the prefix test on lower-cased content.
func TestMarkerCaseInsensitive(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"lowercase marker", "@ai hello", true},
		{"uppercase marker", "@AI hello", true},
		{"mixed case marker", "@Ai hello", true},
		{"marker not at start", "well @ai hello", false},
		{"no marker", "hello there", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &testhelpers.FakeLLM{Response: "hi"}
			room := newAIRoom(t, fake)

			room.AddMessage(server.Message{Sender: "alice", Content: tt.content})

			if tt.want {
				waitForHistory(t, room, 2)
				return
			}
			time.Sleep(50 * time.Millisecond)
			if len(fake.Prompts()) != 0 {
				t.Errorf("Unmarked message %q triggered inference", tt.content)
			}
		})
	}
}

// TestRequestsAnsweredInOrder verifies strict FIFO consumption: answers
// appear in arrival order even though each inference takes time.
func TestRequestsAnsweredInOrder(t *testing.T) {
	fake := &testhelpers.FakeLLM{Response: "ack", Delay: 20 * time.Millisecond}
	room := newAIRoom(t, fake)

	room.AddMessage(server.Message{Sender: "alice", Content: "@ai first"})
	room.AddMessage(server.Message{Sender: "bob", Content: "@ai second"})
	room.AddMessage(server.Message{Sender: "carol", Content: "@ai third"})

	waitForHistory(t, room, 6)

	prompts := fake.Prompts()
	if len(prompts) != 3 {
		t.Fatalf("Expected 3 inferences, got %d", len(prompts))
	}
	order := []string{"first", "second", "third"}
	for i, word := range order {
		if !strings.Contains(prompts[i], word) {
			t.Errorf("Inference %d out of order: prompt %q should contain %q", i, prompts[i], word)
		}
	}
}

// TestRoomResponsiveDuringInference verifies that an in-flight inference
// never delays ordinary message posting and broadcast.
func TestRoomResponsiveDuringInference(t *testing.T) {
	fake := &testhelpers.FakeLLM{Response: "slow answer", Delay: 200 * time.Millisecond}
	room := newAIRoom(t, fake)

	observer := server.NewParticipant("observer", 64)
	room.AddParticipant(observer)

	room.AddMessage(server.Message{Sender: "alice", Content: "@ai think hard"})

	start := time.Now()
	room.AddMessage(server.Message{Sender: "bob", Content: "ordinary chatter"})
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Ordinary posting delayed by in-flight inference: %s", elapsed)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case line := <-observer.Lines():
			if line == "[bob]: ordinary chatter" {
				return
			}
		case <-deadline:
			t.Fatal("Ordinary message not delivered while inference in flight")
		}
	}
}

// TestInferenceFailureDegrades verifies that a backend failure produces a
// system error message instead of an AI reply and does not stop the consumer.
func TestInferenceFailureDegrades(t *testing.T) {
	fake := &testhelpers.FakeLLM{Err: errors.New("backend unavailable")}
	room := newAIRoom(t, fake)

	room.AddMessage(server.Message{Sender: "alice", Content: "@ai hello?"})

	history := waitForHistory(t, room, 2)
	last := history[len(history)-1]
	if last.Sender != server.SystemSender {
		t.Fatalf("Expected system-sender error message, got %+v", last)
	}
	if !strings.Contains(last.Content, "Error getting AI response") {
		t.Errorf("Unexpected error message content: %q", last.Content)
	}

	// The consumer must still answer subsequent requests.
	fake.Err = nil
	fake.Response = "recovered"
	room.AddMessage(server.Message{Sender: "alice", Content: "@ai again"})

	history = waitForHistory(t, room, 4)
	last = history[len(history)-1]
	if last.Sender != server.AISender || last.Content != "recovered" {
		t.Errorf("Consumer did not recover after failure, got %+v", last)
	}
}

// TestThinkingIndicatorBroadcast verifies the periodic presence indicator is
// broadcast during inference and stops afterwards, without being historized.
func TestThinkingIndicatorBroadcast(t *testing.T) {
	fake := &testhelpers.FakeLLM{Response: "done", Delay: 120 * time.Millisecond}
	room := newAIRoom(t, fake)

	observer := server.NewParticipant("observer", 256)
	room.AddParticipant(observer)

	room.AddMessage(server.Message{Sender: "alice", Content: "@ai ponder"})
	waitForHistory(t, room, 2)

	thinking := 0
	deadline := time.After(200 * time.Millisecond)
drainLoop:
	for {
		select {
		case line := <-observer.Lines():
			if line == "[System]: AI is thinking..." {
				thinking++
			}
		case <-deadline:
			break drainLoop
		}
	}

	if thinking == 0 {
		t.Error("Expected at least one thinking indicator during the slow inference")
	}
	for _, entry := range room.History() {
		if entry.Content == "AI is thinking..." {
			t.Error("Thinking indicator must not be historized")
		}
	}
}

// TestPromptIncludesPriorHistory verifies the prompt carries the trigger plus
// the prior history excluding the trigger itself.
func TestPromptIncludesPriorHistory(t *testing.T) {
	fake := &testhelpers.FakeLLM{Response: "noted"}
	room := newAIRoom(t, fake)

	room.AddMessage(server.Message{Sender: "alice", Content: "setting the scene"})
	waitForPrompts := func(want int) []string {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if prompts := fake.Prompts(); len(prompts) >= want {
				return prompts
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("Timed out waiting for %d prompts", want)
		return nil
	}

	room.AddMessage(server.Message{Sender: "bob", Content: "@ai summarize"})
	prompts := waitForPrompts(1)

	prompt := prompts[0]
	if !strings.Contains(prompt, "bob just said ''@ai summarize''") {
		t.Errorf("Prompt missing trigger line: %q", prompt)
	}
	if !strings.Contains(prompt, "alice said ''setting the scene''") {
		t.Errorf("Prompt missing prior history: %q", prompt)
	}
	if strings.Count(prompt, "@ai summarize") != 1 {
		t.Errorf("Trigger duplicated in prompt: %q", prompt)
	}
}

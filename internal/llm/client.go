// Package llm provides the inference backend client used by AI-augmented
// chat rooms. The backend is consumed as a black box: one synchronous prompt
// in, one generated text out.
package llm

import "context"

// Client is the interface an inference backend implements.
type Client interface {
	// Complete sends a single non-streaming prompt and returns the
	// generated text. The context bounds the whole call.
	Complete(ctx context.Context, prompt string) (string, error)

	// Model returns the model identifier used for requests.
	Model() string
}

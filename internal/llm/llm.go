package llm

import "context"

// Client is the text-completion capability the pipeline depends on. The
// provider is a black box: one prompt in, one text out. Tests inject a stub.
type Client interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

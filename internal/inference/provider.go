// Package inference calls the hosted model that produces chat replies.
package inference

import (
	"context"

	"github.com/ashureev/chatrelay/internal/domain"
)

// Provider produces one assistant reply for an ordered message sequence.
type Provider interface {
	Complete(ctx context.Context, messages []domain.Message) Result
}

// Result is the outcome of one inference call: either a reply or the reason
// there is none.
type Result struct {
	Reply string
	Err   error
}

// OK reports whether the call produced a reply.
func (r Result) OK() bool {
	return r.Err == nil
}

// Success wraps a reply.
func Success(reply string) Result {
	return Result{Reply: reply}
}

// Failure wraps the reason a call failed.
func Failure(err error) Result {
	return Result{Err: err}
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, messages []domain.Message) Result

// Complete calls f.
func (f ProviderFunc) Complete(ctx context.Context, messages []domain.Message) Result {
	return f(ctx, messages)
}

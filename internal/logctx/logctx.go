// Package logctx enriches slog records with operation-scoped attributes
// carried in the context, so every log line emitted during a verification or
// send carries the operation name, project, and request correlation id.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if op, ok := ctx.Value(operationKey{}).(*Operation); ok {
		attrs := []any{
			slog.String("name", op.Name),
		}
		if op.Project != "" {
			attrs = append(attrs, slog.String("project", op.Project))
		}
		if op.RequestID != "" {
			attrs = append(attrs, slog.String("request_id", op.RequestID))
		}
		r.AddAttrs(slog.Group("op", attrs...))
	}
	return h.Handler.Handle(ctx, r)
}

type operationKey struct{}

// Operation identifies the logical operation a context belongs to.
type Operation struct {
	Name      string
	Project   string
	RequestID string
}

func WithOperation(ctx context.Context, op *Operation) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

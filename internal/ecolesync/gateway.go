package ecolesync

import (
	"context"
	"errors"
)

var (
	ErrNoOwner      = errors.New("no owner established")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Gateway is the remote-table contract for one entity type: all rows for
// an owner ordered by creation time descending, insert/update returning
// exactly one row, delete by id.
type Gateway[R Record[R]] interface {
	SelectAll(ctx context.Context, ownerID string) ([]R, error)
	Insert(ctx context.Context, rec R) (R, error)
	Update(ctx context.Context, id string, patch map[string]any) (R, error)
	Delete(ctx context.Context, id string) error
}

type correlationKey struct{}

// WithCorrelation tags ctx with a mutation correlation id. Gateways
// propagate the tag to the remote store so echoed change-feed events can
// be matched back to the mutation that caused them.
func WithCorrelation(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, correlationID)
}

func CorrelationFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

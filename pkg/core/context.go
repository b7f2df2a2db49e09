package core

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}
type roomIDKey struct{}

// WithRunID attaches a run id to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run id if present.
func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// EnsureRunID ensures a run id exists in the context.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	id := NewRunID()
	return WithRunID(ctx, id), id
}

// WithRoomID attaches the room being handled to the context.
func WithRoomID(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, roomIDKey{}, roomID)
}

// RoomID returns the room id if present.
func RoomID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(roomIDKey{}).(string)
	return id, ok && id != ""
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return "run-" + uuid.NewString()
}

package model

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/errors"
	"github.com/jllopis/aion/pkg/registry"
)

func constHandler(out string) core.ModelHandler {
	return func(context.Context, core.ModelParams) (any, error) { return out, nil }
}

func streamHandler(parts ...string) core.StreamHandler {
	return func(ctx context.Context, _ core.ModelParams) (<-chan core.StreamChunk, error) {
		ch := make(chan core.StreamChunk, len(parts)+1)
		for _, p := range parts {
			ch <- core.StreamChunk{Text: p}
		}
		ch <- core.StreamChunk{Done: true}
		close(ch)
		return ch, nil
	}
}

func TestUseSelectsHighestPriority(t *testing.T) {
	reg := registry.New()
	reg.RegisterModel(core.ModelRegistration{ModelType: core.ModelTextLarge, Provider: "p2", Priority: 2, Handler: constHandler("p2")})
	reg.RegisterModel(core.ModelRegistration{ModelType: core.ModelTextLarge, Provider: "p1", Priority: 10, Handler: constHandler("p1")})
	reg.RegisterModel(core.ModelRegistration{ModelType: core.ModelTextLarge, Provider: "p1-late", Priority: 10, Handler: constHandler("p1-late")})
	d := New(reg)

	out, err := d.Use(context.Background(), core.ModelTextLarge, core.ModelParams{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "p1", out)

	out, err = d.Use(context.Background(), core.ModelTextLarge, core.ModelParams{}, WithProvider("p2"))
	require.NoError(t, err)
	assert.Equal(t, "p2", out)
}

func TestUseErrors(t *testing.T) {
	reg := registry.New()
	reg.RegisterModel(core.ModelRegistration{ModelType: core.ModelTextSmall, Provider: "local", Handler: constHandler("x")})
	d := New(reg)

	_, err := d.Use(context.Background(), core.ModelTextEmbedding, core.ModelParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrModelTypeNotRegistered)
	assert.Equal(t, errors.CodeConfiguration, errors.CodeOf(err))

	_, err = d.Use(context.Background(), core.ModelTextSmall, core.ModelParams{}, WithProvider("remote"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrModelProviderNotFound)
	assert.NotErrorIs(t, err, errors.ErrModelTypeNotRegistered)
}

func TestUsePropagatesHandlerError(t *testing.T) {
	reg := registry.New()
	boom := stderrors.New("rate limited")
	reg.RegisterModel(core.ModelRegistration{ModelType: core.ModelTextLarge, Provider: "p", Handler: func(context.Context, core.ModelParams) (any, error) {
		return nil, boom
	}})
	var calls []Call
	d := New(reg, WithObserver(func(_ context.Context, c Call) { calls = append(calls, c) }))

	_, err := d.Use(context.Background(), core.ModelTextLarge, core.ModelParams{})
	assert.ErrorIs(t, err, boom)
	require.Len(t, calls, 1)
	assert.Equal(t, "p", calls[0].Provider)
	assert.ErrorIs(t, calls[0].Err, boom)
}

func TestUseText(t *testing.T) {
	reg := registry.New()
	reg.RegisterModel(core.ModelRegistration{ModelType: core.ModelTextLarge, Handler: constHandler("hello")})
	reg.RegisterModel(core.ModelRegistration{ModelType: core.ModelTextEmbedding, Handler: func(context.Context, core.ModelParams) (any, error) {
		return []float32{0.1}, nil
	}})
	d := New(reg)

	text, err := d.UseText(context.Background(), core.ModelTextLarge, core.ModelParams{})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	_, err = d.UseText(context.Background(), core.ModelTextEmbedding, core.ModelParams{})
	assert.Equal(t, errors.CodeExecution, errors.CodeOf(err))
}

func TestUseStream(t *testing.T) {
	reg := registry.New()
	reg.RegisterModelStream(core.StreamRegistration{ModelType: core.ModelTextLarge, Provider: "low", Priority: 1, Handler: streamHandler("x")})
	reg.RegisterModelStream(core.StreamRegistration{ModelType: core.ModelTextLarge, Provider: "high", Priority: 5, Handler: streamHandler("Hel", "lo")})
	d := New(reg)

	chunks, err := d.UseStream(context.Background(), core.ModelTextLarge, core.ModelParams{})
	require.NoError(t, err)
	text, err := Collect(chunks)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)

	_, err = d.UseStream(context.Background(), core.ModelTextSmall, core.ModelParams{})
	assert.ErrorIs(t, err, errors.ErrModelTypeNotRegistered)
	_, err = d.UseStream(context.Background(), core.ModelTextLarge, core.ModelParams{}, WithProvider("none"))
	assert.ErrorIs(t, err, errors.ErrModelProviderNotFound)
}

func TestUseStreamSurfacesChunkError(t *testing.T) {
	reg := registry.New()
	reg.RegisterModelStream(core.StreamRegistration{ModelType: core.ModelTextLarge, Handler: func(context.Context, core.ModelParams) (<-chan core.StreamChunk, error) {
		ch := make(chan core.StreamChunk, 2)
		ch <- core.StreamChunk{Text: "par"}
		ch <- core.StreamChunk{Err: stderrors.New("connection reset")}
		close(ch)
		return ch, nil
	}})
	chunks, err := New(reg).UseStream(context.Background(), core.ModelTextLarge, core.ModelParams{})
	require.NoError(t, err)
	text, err := Collect(chunks)
	assert.Equal(t, "par", text)
	assert.EqualError(t, err, "connection reset")
}

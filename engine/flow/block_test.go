package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlock_Render_Form(t *testing.T) {
	ev := mustEvaluator(t)
	b := &Block{
		Name: "creds", Kind: KindForm, RequiresInteraction: true,
		Form: []FormField{{Name: "apiKey", Label: "API Key", Type: FieldPassword, Required: true}},
	}
	render, err := b.Render(context.Background(), ev, nil)
	require.NoError(t, err)
	assert.Equal(t, KindForm, render.Type)
	fields := render.Config["fields"].([]map[string]any)
	require.Len(t, fields, 1)
	assert.Equal(t, "apiKey", fields[0]["name"])
}

func TestBlock_Render_Confirm_WithExpression(t *testing.T) {
	ev := mustEvaluator(t)
	b := &Block{
		Name: "confirm", Kind: KindConfirm, RequiresInteraction: true,
		ConfirmMessage: TemplatedString{Expr: `"Connect to " + ctx.form.accountName + "?"`},
		ConfirmTitle:   TemplatedString{Literal: "Confirm"},
	}
	render, err := b.Render(context.Background(), ev, map[string]any{
		"form": map[string]any{"accountName": "Acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Connect to Acme?", render.Config["message"])
	assert.Equal(t, "Confirm", render.Config["title"])
}

func TestBlock_Render_PanicsOnNonInteractive(t *testing.T) {
	ev := mustEvaluator(t)
	b := &Block{Name: "log", Kind: KindLog, RequiresInteraction: false}
	assert.Panics(t, func() {
		_, _ = b.Render(context.Background(), ev, nil)
	})
}

func TestRun_PanicsOnInteractive(t *testing.T) {
	ev := mustEvaluator(t)
	b := &Block{Name: "form", Kind: KindForm, RequiresInteraction: true}
	assert.Panics(t, func() {
		_, _ = Run(context.Background(), b, ev, nil)
	})
}

func TestRun_Delay(t *testing.T) {
	b := &Block{Name: "delay", Kind: KindDelay, DelayMs: 5}
	_, err := Run(context.Background(), b, nil, nil)
	require.NoError(t, err)
}

func TestRun_Transform(t *testing.T) {
	b := &Block{
		Name: "xf", Kind: KindTransform,
		Transform: func(ctx context.Context, sessionContext map[string]any) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	}
	out, err := Run(context.Background(), b, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

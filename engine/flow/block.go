// Package flow implements the polymorphic flow block library and the
// resumable flow session state machine that drives connector authentication.
package flow

import (
	"context"
	"time"

	"github.com/nexusflow/flowcore/engine/core"
)

// Kind discriminates the tagged variant over block kinds.
type Kind string

const (
	KindForm      Kind = "form"
	KindConfirm   Kind = "confirm"
	KindDisplay   Kind = "display"
	KindOAuth     Kind = "oauth"
	KindHTTP      Kind = "http"
	KindTransform Kind = "transform"
	KindDelay     Kind = "delay"
	KindLog       Kind = "log"
)

// FieldType enumerates the form field input types the spec allows.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldEmail    FieldType = "email"
	FieldNumber   FieldType = "number"
	FieldURL      FieldType = "url"
	FieldPassword FieldType = "password"
	FieldTel      FieldType = "tel"
)

// FormField describes one input of a form block.
type FormField struct {
	Name         string
	Label        string
	Type         FieldType
	Required     bool
	DefaultValue any
	Placeholder  string
}

// TransformFunc is a pure function of the accumulated session context. It
// must not perform I/O; blocks that need I/O use KindHTTP instead.
type TransformFunc func(ctx context.Context, sessionContext map[string]any) (map[string]any, error)

// RefreshFunc renews a connection's config (e.g. exchanging a refresh token);
// it is the connector's `refresh` callback from the data model.
type RefreshFunc func(ctx context.Context, connectionConfig map[string]any) (map[string]any, error)

// HTTPSpec describes an http block's request. Each field is either a literal
// value or a CEL expression string evaluated against context — Literal
// carries the former, Expr the latter; exactly one is set per field.
type HTTPSpec struct {
	URL     TemplatedString
	Method  string
	Headers TemplatedMap
	Body    TemplatedValue
	Timeout time.Duration
}

// TemplatedString is a literal string, or a CEL expression (if Expr is set)
// evaluated against context at block-run time.
type TemplatedString struct {
	Literal string
	Expr    string
}

// TemplatedMap is a literal map, or a CEL expression producing a map.
type TemplatedMap struct {
	Literal map[string]string
	Expr    string
}

// TemplatedValue is a literal value, or a CEL expression producing any value.
type TemplatedValue struct {
	Literal any
	Expr    string
}

func (t TemplatedString) isExpr() bool { return t.Expr != "" }
func (t TemplatedMap) isExpr() bool    { return t.Expr != "" }
func (t TemplatedValue) isExpr() bool  { return t.Expr != "" }

// RenderConfig carries whatever a remote UI needs to draw an interactive
// block: the kind discriminator plus a kind-specific payload.
type RenderConfig struct {
	Type   Kind           `json:"type"`
	Config map[string]any `json:"config"`
}

// Block is one step of a Flow: either interactive (its Run must never be
// called — the UI renderer supplies the output) or non-interactive (Run is
// the whole of its behavior).
type Block struct {
	Name                string
	Kind                Kind
	Label               string
	Description         string
	RequiresInteraction bool

	Form      []FormField         // KindForm
	ConfirmTitle, ConfirmMessage TemplatedString // KindConfirm
	DisplayTitle, DisplayContent TemplatedString // KindDisplay
	HTTP      HTTPSpec            // KindHTTP
	Transform TransformFunc       // KindTransform
	DelayMs   int64               // KindDelay
	LogMessage TemplatedString    // KindLog
}

// Render evaluates the interactive block's dynamic strings against ctx and
// returns the descriptor a remote UI needs. Calling Render on a
// non-interactive block is a programmer error and panics, matching the
// spec's "running an interactive block's run is a programmer error"
// contract mirrored onto the render side.
func (b *Block) Render(ctx context.Context, ev *Evaluator, sessionContext map[string]any) (*RenderConfig, error) {
	if !b.RequiresInteraction {
		panic("flow: Render called on a non-interactive block: " + b.Name)
	}
	switch b.Kind {
	case KindForm:
		fields := make([]map[string]any, len(b.Form))
		for i, f := range b.Form {
			fields[i] = map[string]any{
				"name": f.Name, "label": f.Label, "type": string(f.Type),
				"required": f.Required, "defaultValue": f.DefaultValue, "placeholder": f.Placeholder,
			}
		}
		return &RenderConfig{Type: KindForm, Config: map[string]any{"fields": fields}}, nil
	case KindConfirm:
		title, err := ev.EvaluateString(ctx, b.ConfirmTitle, sessionContext)
		if err != nil {
			return nil, err
		}
		message, err := ev.EvaluateString(ctx, b.ConfirmMessage, sessionContext)
		if err != nil {
			return nil, err
		}
		return &RenderConfig{Type: KindConfirm, Config: map[string]any{"title": title, "message": message}}, nil
	case KindDisplay:
		title, err := ev.EvaluateString(ctx, b.DisplayTitle, sessionContext)
		if err != nil {
			return nil, err
		}
		content, err := ev.EvaluateString(ctx, b.DisplayContent, sessionContext)
		if err != nil {
			return nil, err
		}
		return &RenderConfig{Type: KindDisplay, Config: map[string]any{"title": title, "content": content}}, nil
	case KindOAuth:
		return &RenderConfig{Type: KindOAuth, Config: map[string]any{}}, nil
	default:
		return nil, core.Errorf(core.CodeInternal, "flow: block %q of kind %q has no render config", b.Name, b.Kind)
	}
}

package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nexusflow/flowcore/engine/core"
)

const defaultHTTPTimeout = 30 * time.Second

// Run executes a non-interactive block and returns its output. Calling Run
// on an interactive block is a programmer error.
func Run(ctx context.Context, b *Block, ev *Evaluator, sessionContext map[string]any) (map[string]any, error) {
	if b.RequiresInteraction {
		panic("flow: Run called on an interactive block: " + b.Name)
	}
	switch b.Kind {
	case KindHTTP:
		return runHTTP(ctx, b, ev, sessionContext)
	case KindTransform:
		return runTransform(ctx, b, sessionContext)
	case KindDelay:
		return runDelay(ctx, b)
	case KindLog:
		return runLog(ctx, b, ev, sessionContext)
	default:
		return nil, core.Errorf(core.CodeInternal, "flow: block %q has no non-interactive runner for kind %q", b.Name, b.Kind)
	}
}

func runHTTP(ctx context.Context, b *Block, ev *Evaluator, sessionContext map[string]any) (map[string]any, error) {
	spec := b.HTTP
	resolvedURL, err := ev.EvaluateString(ctx, spec.URL, sessionContext)
	if err != nil {
		return nil, core.NewError(err, core.CodeFlowStepFailed, map[string]any{"block": b.Name, "field": "url"})
	}
	headers, err := ev.EvaluateMap(ctx, spec.Headers, sessionContext)
	if err != nil {
		return nil, core.NewError(err, core.CodeFlowStepFailed, map[string]any{"block": b.Name, "field": "headers"})
	}
	body, err := ev.EvaluateValue(ctx, spec.Body, sessionContext)
	if err != nil {
		return nil, core.NewError(err, core.CodeFlowStepFailed, map[string]any{"block": b.Name, "field": "body"})
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := resty.New().SetTimeout(timeout)
	req := client.R().SetContext(reqCtx)
	for k, v := range headers {
		req.SetHeader(k, v)
	}
	if isFormEncoded(headers) {
		req.SetFormDataFromValues(formValues(body))
	} else {
		if !hasContentType(headers) {
			req.SetHeader("Content-Type", "application/json")
		}
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, core.NewError(err, core.CodeFlowStepFailed, map[string]any{"block": b.Name})
			}
			req.SetBody(encoded)
		}
	}

	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = "GET"
	}
	resp, err := req.Execute(method, resolvedURL)
	if err != nil {
		return nil, core.NewError(err, core.CodeUpstream, map[string]any{"block": b.Name, "url": resolvedURL})
	}
	if resp.IsError() {
		return nil, core.Errorf(core.CodeUpstream, "HTTP %d: %s", resp.StatusCode(), http.StatusText(resp.StatusCode()))
	}

	var parsed map[string]any
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
			return nil, core.NewError(err, core.CodeUpstream, map[string]any{"block": b.Name, "reason": "invalid JSON response"})
		}
	}
	return parsed, nil
}

func hasContentType(headers map[string]string) bool {
	for k := range headers {
		if strings.EqualFold(k, "Content-Type") {
			return true
		}
	}
	return false
}

func isFormEncoded(headers map[string]string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") && strings.Contains(v, "application/x-www-form-urlencoded") {
			return true
		}
	}
	return false
}

func formValues(body any) url.Values {
	values := url.Values{}
	asMap, ok := body.(map[string]any)
	if !ok {
		return values
	}
	for k, v := range asMap {
		values.Set(k, fmt.Sprintf("%v", v))
	}
	return values
}

func runTransform(ctx context.Context, b *Block, sessionContext map[string]any) (map[string]any, error) {
	if b.Transform == nil {
		return nil, core.Errorf(core.CodeInternal, "flow: transform block %q has no function", b.Name)
	}
	out, err := b.Transform(ctx, sessionContext)
	if err != nil {
		return nil, core.NewError(err, core.CodeFlowStepFailed, map[string]any{"block": b.Name})
	}
	return out, nil
}

func runDelay(ctx context.Context, b *Block) (map[string]any, error) {
	timer := time.NewTimer(time.Duration(b.DelayMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, core.NewError(ctx.Err(), core.CodeFlowStepFailed, map[string]any{"block": b.Name})
	}
}

func runLog(ctx context.Context, b *Block, ev *Evaluator, sessionContext map[string]any) (map[string]any, error) {
	message, err := ev.EvaluateString(ctx, b.LogMessage, sessionContext)
	if err != nil {
		return nil, core.NewError(err, core.CodeFlowStepFailed, map[string]any{"block": b.Name})
	}
	logFromContext(ctx).Info(message, "block", b.Name)
	return nil, nil
}

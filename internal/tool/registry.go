package tool

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"soschat/internal/domain"
	"soschat/internal/metrics"
)

// Registry maps tool names to handlers and dispatches calls to them.
// It is built once at startup and never mutated afterwards, so it is safe
// to share across goroutines without locking.
type Registry struct {
	handlers map[domain.ToolName]domain.Handler
	order    []domain.ToolName
	audit    domain.AuditRecorder
	logger   *slog.Logger
}

type RegistryConfig struct {
	Handlers []domain.Handler
	Audit    domain.AuditRecorder // optional
	Logger   *slog.Logger
}

// NewRegistry builds the registry. Each tool name may be claimed by exactly
// one handler.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Registry{
		handlers: make(map[domain.ToolName]domain.Handler, len(cfg.Handlers)),
		audit:    cfg.Audit,
		logger:   cfg.Logger,
	}
	for _, h := range cfg.Handlers {
		name := h.Name()
		if name == "" {
			return nil, fmt.Errorf("handler %T has an empty tool name", h)
		}
		if _, dup := r.handlers[name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", name)
		}
		r.handlers[name] = h
		r.order = append(r.order, name)
		r.logger.Debug("registered tool", "name", name)
	}
	return r, nil
}

func (r *Registry) Get(name domain.ToolName) domain.Handler {
	return r.handlers[name]
}

// Names returns tool names in registration order.
func (r *Registry) Names() []domain.ToolName {
	return append([]domain.ToolName(nil), r.order...)
}

// Definitions returns name, description and parameter schema of every tool.
func (r *Registry) Definitions() []domain.ToolDefinition {
	defs := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		h := r.handlers[name]
		defs = append(defs, domain.ToolDefinition{
			Name:        name,
			Description: h.Description(),
			Parameters:  h.Parameters(),
		})
	}
	return defs
}

// Dispatch runs the named tool and always returns a Result whose Status is
// success or error. Handler errors and panics are converted to Failures.
func (r *Registry) Dispatch(ctx context.Context, name string, params domain.Params) (res domain.Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool handler panicked", "tool", name, "panic", p)
			res = domain.Failure(domain.KindInternal, http.StatusInternalServerError, "tool %s failed: %v", name, p)
		}
		r.finish(ctx, name, res, time.Since(start))
	}()
	return r.invoke(ctx, name, params)
}

func (r *Registry) invoke(ctx context.Context, name string, params domain.Params) domain.Result {
	if strings.TrimSpace(name) == "" {
		return domain.Failure(domain.KindInput, http.StatusBadRequest, "Tool name is required")
	}
	h, ok := r.handlers[domain.ToolName(name)]
	if !ok {
		return domain.Failure(domain.KindInput, http.StatusBadRequest, "Unknown tool: %s", name)
	}
	if params == nil {
		params = domain.Params{}
	}

	res, err := h.Handle(ctx, params)
	if err != nil {
		return domain.Failure(domain.KindUpstream, 0, "%s", err.Error())
	}
	return normalize(res)
}

// normalize fills in a missing status tag on a handler-built Result.
func normalize(res domain.Result) domain.Result {
	switch res.Status {
	case domain.StatusSuccess:
		if res.Data == nil {
			res.Data = map[string]any{}
		}
		return res
	case domain.StatusError:
		if res.Error == "" {
			res.Error = "tool failed"
		}
		return res
	}
	if res.Error != "" {
		res.Status = domain.StatusError
		return res
	}
	return domain.Success(res.Data).WithSource(res.SourceHint)
}

func (r *Registry) finish(ctx context.Context, name string, res domain.Result, elapsed time.Duration) {
	label := name
	if _, ok := r.handlers[domain.ToolName(name)]; !ok {
		label = "unknown"
	}
	metrics.ToolDispatch(label, string(res.Status)).Inc()
	metrics.ToolLatency(label).Observe(elapsed.Seconds())

	reqID := domain.RequestID(ctx)
	if res.OK() {
		r.logger.Info("tool dispatched", "tool", name, "request_id", reqID,
			"duration_ms", elapsed.Milliseconds(), "source", res.SourceHint)
	} else {
		r.logger.Warn("tool failed", "tool", name, "request_id", reqID,
			"duration_ms", elapsed.Milliseconds(), "kind", res.Kind, "err", res.Error)
	}

	if r.audit == nil {
		return
	}
	rec := domain.DispatchRecord{
		RequestID:  reqID,
		Tool:       name,
		Status:     res.Status,
		Kind:       res.Kind,
		Error:      res.Error,
		Source:     res.SourceHint,
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if err := r.audit.RecordDispatch(context.WithoutCancel(ctx), rec); err != nil {
		metrics.AuditWriteFails.Inc()
		r.logger.Warn("audit write failed", "tool", name, "err", err)
	}
}

package telemetry

import (
	"context"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/resload/internal/handler"
	"github.com/unkn0wn-root/resload/internal/resource"
)

// Handler opens a span per request and records each checkpoint as a span
// event.
type Handler struct {
	handler.Layered

	req    *resource.Request
	tracer trace.Tracer
	ctx    context.Context
	span   trace.Span
	bytes  int64
	reads  int
}

func NewHandler(ctx context.Context, next handler.Handler, req *resource.Request, tracer trace.Tracer) *Handler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Handler{
		Layered: handler.NewLayered(next),
		req:     req,
		tracer:  tracer,
		ctx:     ctx,
	}
}

// Context returns the request span's context once the request started.
func (h *Handler) Context() context.Context { return h.ctx }

func (h *Handler) WillStart(u *url.URL) (bool, error) {
	if h.tracer != nil && h.span == nil {
		h.ctx, h.span = h.tracer.Start(h.ctx, "resload.load",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.Int64("resload.request_id", int64(h.req.ID)),
				attribute.String("http.request.method", h.req.Method),
				attribute.String("url.full", u.String()),
			))
	}
	deferred, err := h.Next().WillStart(u)
	h.event("will_start", deferred, err)
	return deferred, err
}

func (h *Handler) OnBeforeNetworkStart(u *url.URL) (bool, error) {
	deferred, err := h.Next().OnBeforeNetworkStart(u)
	h.event("before_network_start", deferred, err)
	return deferred, err
}

func (h *Handler) OnRequestRedirected(rd *resource.Redirect, head *resource.ResponseHead) (bool, error) {
	deferred, err := h.Next().OnRequestRedirected(rd, head)
	h.event("redirected", deferred, err,
		attribute.Int("http.response.status_code", rd.StatusCode),
		attribute.String("resload.redirect_url", rd.NewURL.String()))
	return deferred, err
}

func (h *Handler) OnResponseStarted(head *resource.ResponseHead) (bool, error) {
	deferred, err := h.Next().OnResponseStarted(head)
	h.event("response_started", deferred, err,
		attribute.Int("http.response.status_code", head.StatusCode),
		attribute.String("resload.mime_type", head.MimeType))
	return deferred, err
}

func (h *Handler) OnReadCompleted(n int) (bool, error) {
	h.bytes += int64(n)
	h.reads++
	deferred, err := h.Next().OnReadCompleted(n)
	if deferred || err != nil || n == 0 {
		h.event("read_completed", deferred, err, attribute.Int("resload.bytes", n))
	}
	return deferred, err
}

func (h *Handler) OnResponseCompleted(status resource.Status) bool {
	deferred := h.Next().OnResponseCompleted(status)
	if h.span == nil {
		return deferred
	}
	h.span.AddEvent("response_completed", trace.WithAttributes(
		attribute.String("resload.status", status.String()),
		attribute.Bool("resload.deferred", deferred),
	))
	h.span.SetAttributes(
		attribute.Int64("resload.body_bytes", h.bytes),
		attribute.Int("resload.reads", h.reads),
		attribute.String("resload.blocked_by", h.req.BlockedBy()),
	)
	if status.IsSuccess() {
		h.span.SetStatus(codes.Ok, "")
	} else {
		h.span.SetStatus(codes.Error, status.String())
	}
	h.span.End()
	h.span = nil
	return deferred
}

func (h *Handler) event(name string, deferred bool, err error, attrs ...attribute.KeyValue) {
	if h.span == nil {
		return
	}
	attrs = append(attrs, attribute.Bool("resload.deferred", deferred))
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}
	h.span.AddEvent(name, trace.WithAttributes(attrs...))
}

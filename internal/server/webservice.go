package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"regionline/internal/engine"
	"regionline/internal/wire"
)

var tracer = otel.Tracer("regionline/server")

// webservice serves the endpoints a page talks to: the combined update, the
// field validator and the page itself.
type webservice struct {
	engine engine.Engine
	schema *jsonschema.Schema
	logger *slog.Logger
}

func (ws webservice) page(w http.ResponseWriter, r *http.Request) {
	doc, err := ws.engine.Page(r.Context())
	if err != nil {
		ws.logger.Error("render page", "err", err)
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}

func (ws webservice) update(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "webservice.update")
	defer span.End()

	body := bodyBytes(ctx)
	if len(body) == 0 {
		writeError(w, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil))
		return
	}
	if err := checkRequest(ws.schema, body); err != nil {
		span.SetStatus(codes.Error, "schema")
		writeError(w, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil))
		return
	}
	var req wire.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid request json", map[string]any{"error": err.Error()}))
		return
	}
	span.SetAttributes(
		attribute.Int("regionline.actions", len(req.Actions)),
		attribute.Int("regionline.fragments", len(req.Fragments)),
	)
	resp, err := ws.engine.Handle(ctx, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handle")
		ws.logger.Warn("webservice update", "err", err, "request_id", middleware.GetReqID(ctx))
		writeError(w, err)
		return
	}
	out, err := wire.EncodeResponse(resp)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(out)
}

func (ws webservice) validate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "webservice.validate")
	defer span.End()

	v, err := ws.engine.Validate(ctx, r.URL.RawQuery)
	if err != nil {
		writeError(w, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil))
		return
	}
	out, err := wire.EncodeValidation(v)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(out)
}

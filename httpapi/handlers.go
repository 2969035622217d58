package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
	"github.com/gorilla/mux"
)

type dispatchRequest struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	TargetURL string         `json:"targetUrl,omitempty"`
}

type errorBody struct {
	TextCode string            `json:"text_code"`
	Message  string            `json:"message"`
	Category string            `json:"category"`
	Fields   map[string]string `json:"fields,omitempty"`
}

func (c *Controller) Incoming(w http.ResponseWriter, r *http.Request) {
	req, err := c.inboundRequest(w, r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	result, err := c.receiver.Receive(r.Context(), req)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	c.writeInbound(w, result)
}

func (c *Controller) PromptCallback(w http.ResponseWriter, r *http.Request) {
	req, err := c.inboundRequest(w, r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	result, err := c.receiver.ReceivePromptCallback(r.Context(), req)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	c.writeInbound(w, result)
}

func (c *Controller) Dispatch(w http.ResponseWriter, r *http.Request) {
	var body dispatchRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, c.maxBodyBytes))
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil {
		c.writeError(w, r, core.ValidationError("body", "body must be a JSON object"))
		return
	}
	record, err := c.service.Enqueue(r.Context(), core.EnqueueRequest{
		EventType: body.Type,
		Payload:   body.Payload,
		TargetURL: body.TargetURL,
	})
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":  true,
		"dispatch": record,
	})
}

func (c *Controller) GetDispatch(w http.ResponseWriter, r *http.Request) {
	record, err := c.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"dispatch": record,
	})
}

func (c *Controller) ListDispatches(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	page, err := c.service.List(r.Context(), filter)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"items":   page.Items,
		"total":   page.Total,
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}

func (c *Controller) ReplayDispatch(w http.ResponseWriter, r *http.Request) {
	record, err := c.service.Replay(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":  true,
		"dispatch": record,
	})
}

func (c *Controller) inboundRequest(w http.ResponseWriter, r *http.Request) (core.InboundRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.InboundRequest{}, core.ValidationError("body", "body is too large")
		}
		return core.InboundRequest{}, core.ValidationError("body", "body could not be read")
	}
	headers := make(map[string]string, len(r.Header))
	for key := range r.Header {
		headers[key] = r.Header.Get(key)
	}
	return core.InboundRequest{
		Source:  r.URL.Query().Get("source"),
		Headers: headers,
		Body:    body,
		Metadata: map[string]any{
			"remote_addr": r.RemoteAddr,
			"path":        r.URL.Path,
		},
	}, nil
}

func (c *Controller) writeInbound(w http.ResponseWriter, result core.InboundResult) {
	status := result.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	body := map[string]any{
		"success": true,
		"event":   result.Event,
	}
	if result.Metadata["duplicate"] == true {
		body["duplicate"] = true
	}
	writeJSON(w, status, body)
}

func (c *Controller) writeError(w http.ResponseWriter, r *http.Request, err error) {
	mapped := core.MapError(err)
	if mapped == nil {
		mapped = core.MapError(errors.New("unknown error"))
	}
	status := mapped.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		c.logger.Error("http request failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	}
	body := errorBody{
		TextCode: mapped.TextCode,
		Message:  mapped.Message,
		Category: string(mapped.Category),
		Fields:   validationFields(mapped),
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   body,
	})
}

func validationFields(err *goerrors.Error) map[string]string {
	if err == nil || len(err.ValidationErrors) == 0 {
		return nil
	}
	fields := make(map[string]string, len(err.ValidationErrors))
	for _, field := range err.ValidationErrors {
		fields[field.Field] = field.Message
	}
	return fields
}

func parseFilter(r *http.Request) (core.DispatchFilter, error) {
	query := r.URL.Query()
	filter := core.DispatchFilter{
		EventType: strings.TrimSpace(query.Get("event_type")),
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, ok := core.ParseDispatchStatus(raw)
		if !ok {
			return core.DispatchFilter{}, core.ValidationError("status", "status must be queued, sent, failed or dead")
		}
		filter.Status = status
	}
	limit, err := parseNonNegative(query.Get("limit"), "limit")
	if err != nil {
		return core.DispatchFilter{}, err
	}
	offset, err := parseNonNegative(query.Get("offset"), "offset")
	if err != nil {
		return core.DispatchFilter{}, err
	}
	filter.Limit = limit
	filter.Offset = offset
	return filter, nil
}

func parseNonNegative(raw string, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, core.ValidationError(field, field+" must be a non-negative integer")
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"conversation-manager/internal/domain"
	"conversation-manager/internal/usecase"
)

// SessionService is the engine surface the handler translates requests onto.
type SessionService interface {
	ProcessMessage(ctx context.Context, in usecase.ProcessInput) (usecase.ProcessResult, error)
	Conversation(ctx context.Context, sessionID string) (*domain.ConversationDocument, error)
	ConversationsByIdentity(ctx context.Context, value string) []domain.ConversationDocument
	SessionHistory(ctx context.Context, kind domain.IdentifierKind, value string) []domain.SessionRef
	AddOrReplaceState(ctx context.Context, sessionID, name string, value any) bool
	RemoveState(ctx context.Context, sessionID, name string) bool
}

// Handler routes API Gateway requests onto the session service.
type Handler struct {
	svc SessionService
	log *slog.Logger
}

func NewHandler(svc SessionService) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: session service must not be nil")
	}
	return &Handler{svc: svc, log: slog.Default()}, nil
}

// Handle dispatches one request. Routes:
//
//	POST   /api/process_message
//	GET    /api/conversations/{id_type}/{value}
//	GET    /api/conversation/{session_id}
//	POST   /api/state
//	DELETE /api/state
//	GET    /api/transmitter/sessions/{id_type}/{value}
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := uuid.NewString()
	segs := pathSegments(req.Path)

	var resp events.APIGatewayProxyResponse
	var err error
	switch {
	case req.HTTPMethod == http.MethodPost && len(segs) == 1 && segs[0] == "process_message":
		resp, err = h.processMessage(ctx, corrID, req.Body)
	case req.HTTPMethod == http.MethodGet && len(segs) == 3 && segs[0] == "conversations":
		resp, err = h.conversationsBy(ctx, corrID, segs[1], segs[2])
	case req.HTTPMethod == http.MethodGet && len(segs) == 2 && segs[0] == "conversation":
		resp, err = h.conversation(ctx, corrID, segs[1])
	case req.HTTPMethod == http.MethodPost && len(segs) == 1 && segs[0] == "state":
		resp, err = h.addState(ctx, corrID, req.Body)
	case req.HTTPMethod == http.MethodDelete && len(segs) == 1 && segs[0] == "state":
		resp, err = h.deleteState(ctx, corrID, req.Body)
	case req.HTTPMethod == http.MethodGet && len(segs) == 4 && segs[0] == "transmitter" && segs[1] == "sessions":
		resp, err = h.transmitterSessions(ctx, corrID, segs[2], segs[3])
	default:
		resp, err = respond(http.StatusNotFound, corrID, map[string]any{"ok": false, "error": "not_found"})
	}

	h.log.InfoContext(ctx, "request handled",
		"method", req.HTTPMethod,
		"path", req.Path,
		"status", resp.StatusCode,
		"correlation_id", corrID,
	)
	return resp, err
}

// pathSegments splits the request path, dropping a leading /api prefix and
// unescaping each segment (identity values may carry +, @ or spaces).
func pathSegments(path string) []string {
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) > 0 && parts[0] == "api" {
		parts = parts[1:]
	}
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(p); err == nil {
			p = unescaped
		}
		segs = append(segs, p)
	}
	return segs
}

// processRequest is the inbound payload. content, tokens and send_data may
// each arrive as an object or as a JSON-encoded string (some integrations
// double-encode); the raw fields are normalized below.
type processRequest struct {
	Content  json.RawMessage `json:"content"`
	Tokens   json.RawMessage `json:"tokens"`
	SendData json.RawMessage `json:"send_data"`
	Phone    string          `json:"phone"`
	Email    string          `json:"email"`
	ChatID   string          `json:"chat_id"`
	MetaID   string          `json:"meta_id"`
}

type contentBody struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

func (h *Handler) processMessage(ctx context.Context, corrID, body string) (events.APIGatewayProxyResponse, error) {
	var preq processRequest
	if err := json.Unmarshal([]byte(body), &preq); err != nil {
		return respond(http.StatusBadRequest, corrID, map[string]any{"success": false, "error": "invalid json body"})
	}
	content, err := normalizeContent(preq.Content)
	if err != nil {
		return respond(http.StatusBadRequest, corrID, map[string]any{"success": false, "error": err.Error()})
	}

	in := usecase.ProcessInput{
		Message: domain.MessageInput{
			Role:    content.Role,
			Content: content.Text,
			Tokens:  normalizeTokens(preq.Tokens),
			Send:    normalizeSend(preq.SendData),
		},
		Identifiers: domain.Identifiers{
			Phone:  preq.Phone,
			Email:  preq.Email,
			ChatID: preq.ChatID,
			MetaID: preq.MetaID,
		},
	}

	res, err := h.svc.ProcessMessage(ctx, in)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "internal error"
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) {
			msg = ucErr.Reason
			if ucErr.Code == usecase.ErrorNoIdentifier || ucErr.Code == usecase.ErrorInvalidInput {
				status = http.StatusBadRequest
			}
		}
		return respond(status, corrID, map[string]any{"success": false, "error": msg})
	}

	out := map[string]any{
		"success":      true,
		"session_id":   res.SessionID,
		"created":      res.Created,
		"conversation": res.Conversation,
	}
	if res.Created {
		out["transmitter_registered"] = res.TransmitterRegistered
	}
	return respond(http.StatusOK, corrID, out)
}

func (h *Handler) conversationsBy(ctx context.Context, corrID, idType, value string) (events.APIGatewayProxyResponse, error) {
	if _, ok := domain.ParseIdentifierKind(idType); !ok {
		return respond(http.StatusBadRequest, corrID, map[string]any{"ok": false, "error": "invalid id_type"})
	}
	docs := h.svc.ConversationsByIdentity(ctx, value)
	if docs == nil {
		docs = []domain.ConversationDocument{}
	}
	return respond(http.StatusOK, corrID, map[string]any{"ok": true, "conversations": docs})
}

func (h *Handler) conversation(ctx context.Context, corrID, sessionID string) (events.APIGatewayProxyResponse, error) {
	convo, err := h.svc.Conversation(ctx, sessionID)
	if err != nil {
		return respond(http.StatusInternalServerError, corrID, map[string]any{"ok": false, "error": "internal error"})
	}
	if convo == nil {
		return respond(http.StatusNotFound, corrID, map[string]any{"ok": false, "error": "not_found"})
	}
	return respond(http.StatusOK, corrID, map[string]any{"ok": true, "conversation": convo})
}

type stateRequest struct {
	SessionID string             `json:"session_id"`
	State     *domain.StateEntry `json:"state"`
	StateName string             `json:"state_name"`
}

func (h *Handler) addState(ctx context.Context, corrID, body string) (events.APIGatewayProxyResponse, error) {
	var sreq stateRequest
	if err := json.Unmarshal([]byte(body), &sreq); err != nil || sreq.SessionID == "" || sreq.State == nil || sreq.State.Name == "" {
		return respond(http.StatusBadRequest, corrID, map[string]any{"ok": false, "error": "missing session_id or state"})
	}
	ok := h.svc.AddOrReplaceState(ctx, sreq.SessionID, sreq.State.Name, sreq.State.Value)
	return respond(http.StatusOK, corrID, map[string]any{"ok": ok})
}

func (h *Handler) deleteState(ctx context.Context, corrID, body string) (events.APIGatewayProxyResponse, error) {
	var sreq stateRequest
	if err := json.Unmarshal([]byte(body), &sreq); err != nil || sreq.SessionID == "" || sreq.StateName == "" {
		return respond(http.StatusBadRequest, corrID, map[string]any{"ok": false, "error": "missing session_id or state_name"})
	}
	ok := h.svc.RemoveState(ctx, sreq.SessionID, sreq.StateName)
	return respond(http.StatusOK, corrID, map[string]any{"ok": ok})
}

func (h *Handler) transmitterSessions(ctx context.Context, corrID, idType, value string) (events.APIGatewayProxyResponse, error) {
	kind, ok := domain.ParseIdentifierKind(idType)
	if !ok {
		return respond(http.StatusBadRequest, corrID, map[string]any{"ok": false, "error": "invalid id_type"})
	}
	refs := h.svc.SessionHistory(ctx, kind, value)
	if refs == nil {
		refs = []domain.SessionRef{}
	}
	return respond(http.StatusOK, corrID, map[string]any{"ok": true, "sessions": refs})
}

// normalizeContent accepts an object, a JSON-encoded object string, or a
// plain string (wrapped as the message text).
func normalizeContent(raw json.RawMessage) (contentBody, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return contentBody{}, errors.New("missing content")
	}
	var body contentBody
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(raw, &body); err != nil {
			return contentBody{}, errors.New("content must be object or JSON string")
		}
		return body, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return contentBody{}, errors.New("content must be object or JSON string")
	}
	if strings.HasPrefix(strings.TrimSpace(s), "{") {
		if err := json.Unmarshal([]byte(s), &body); err == nil {
			return body, nil
		}
	}
	return contentBody{Text: s}, nil
}

// normalizeTokens falls back to zero counts on anything unparseable.
func normalizeTokens(raw json.RawMessage) domain.TokenUsage {
	var usage domain.TokenUsage
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return usage
	}
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(raw, &usage); err != nil {
			return domain.TokenUsage{}
		}
		return usage
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.TokenUsage{}
	}
	if err := json.Unmarshal([]byte(s), &usage); err != nil {
		return domain.TokenUsage{}
	}
	return usage
}

// normalizeSend falls back to all-null media on anything unparseable.
func normalizeSend(raw json.RawMessage) domain.SendData {
	var send domain.SendData
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return send
	}
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(raw, &send); err != nil {
			return domain.SendData{}
		}
		return send
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.SendData{}
	}
	if err := json.Unmarshal([]byte(s), &send); err != nil {
		return domain.SendData{}
	}
	return send
}

func respond(status int, corrID string, v any) (events.APIGatewayProxyResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    responseHeaders(corrID),
			Body:       `{"success":false,"error":"response encoding failed"}`,
		}, nil
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    responseHeaders(corrID),
		Body:       string(body),
	}, nil
}

func responseHeaders(corrID string) map[string]string {
	return map[string]string{
		"content-type":     "application/json",
		"X-Correlation-Id": corrID,
	}
}

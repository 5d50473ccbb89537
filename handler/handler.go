package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"upload-files-skill/internal/domain"
	"upload-files-skill/internal/turn"
	"upload-files-skill/internal/usecase"
)

const (
	MessagesPath   = "/api/messages"
	ManifestPrefix = "/manifest/"

	correlationHeader = "X-Correlation-Id"
	maxActivityBytes  = 1 << 20
)

const (
	errorInvalidActivity = "INVALID_ACTIVITY"
	errorNotFound        = "NOT_FOUND"
	errorInternal        = "INTERNAL_ERROR"
)

// TurnProcessor runs the bot for one incoming activity.
type TurnProcessor interface {
	OnTurn(ctx context.Context, tc usecase.TurnContext) error
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type expectedRepliesResponse struct {
	Activities []domain.Activity `json:"activities"`
}

// Handler serves the skill over API Gateway and plain HTTP.
type Handler struct {
	bot       TurnProcessor
	sender    turn.Sender
	manifests fs.FS
	log       *slog.Logger
}

type Option func(*Handler)

// WithManifests serves skill manifest files from fsys under /manifest/.
func WithManifests(fsys fs.FS) Option {
	return func(h *Handler) {
		h.manifests = fsys
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		h.log = log
	}
}

func NewHandler(bot TurnProcessor, sender turn.Sender, opts ...Option) (*Handler, error) {
	if bot == nil {
		return nil, errors.New("handler: bot must not be nil")
	}
	if sender == nil {
		return nil, errors.New("handler: sender must not be nil")
	}
	h := &Handler{bot: bot, sender: sender, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle is the Lambda entry point for API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With(slog.String("correlation_id", correlationID))

	var (
		status      int
		body        []byte
		contentType = "application/json"
	)
	switch {
	case req.HTTPMethod == http.MethodPost && req.Path == MessagesPath:
		raw := []byte(req.Body)
		if req.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(req.Body)
			if err != nil {
				status, body = errorBody(http.StatusBadRequest, errorInvalidActivity, "body is not valid base64")
				break
			}
			raw = decoded
		}
		status, body = h.process(ctx, log, raw)
	case req.HTTPMethod == http.MethodGet && strings.HasPrefix(req.Path, ManifestPrefix):
		status, body, contentType = h.Manifest(strings.TrimPrefix(req.Path, ManifestPrefix))
	default:
		status, body = errorBody(http.StatusNotFound, errorNotFound, "")
	}

	log.Info("request handled",
		slog.String("method", req.HTTPMethod),
		slog.String("path", req.Path),
		slog.Int("status", status),
	)
	headers := map[string]string{correlationHeader: correlationID}
	if len(body) > 0 {
		headers["Content-Type"] = contentType
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       string(body),
	}, nil
}

// ProcessActivity decodes one activity, runs the bot and returns the HTTP
// status and body for the caller. The body is empty unless the activity
// asked for expectReplies or was rejected.
func (h *Handler) ProcessActivity(ctx context.Context, body []byte) (int, []byte) {
	return h.process(ctx, h.log, body)
}

func (h *Handler) process(ctx context.Context, log *slog.Logger, body []byte) (int, []byte) {
	if len(body) > maxActivityBytes {
		return errorBody(http.StatusRequestEntityTooLarge, errorInvalidActivity, "activity too large")
	}
	var act domain.Activity
	if err := json.Unmarshal(body, &act); err != nil {
		log.Warn("invalid activity payload", slog.Any("error", err))
		return errorBody(http.StatusBadRequest, errorInvalidActivity, "body is not a valid activity")
	}

	tc := turn.New(act, h.sender)
	if err := h.bot.OnTurn(ctx, tc); err != nil {
		log.Warn("activity rejected", slog.Any("error", err))
		return errorBody(http.StatusBadRequest, errorInvalidActivity, err.Error())
	}

	if !act.ExpectsReplies() {
		return http.StatusOK, nil
	}
	out, err := json.Marshal(expectedRepliesResponse{Activities: tc.BufferedReplies()})
	if err != nil {
		log.Error("encode replies", slog.Any("error", err))
		return errorBody(http.StatusInternalServerError, errorInternal, "")
	}
	return http.StatusOK, out
}

// Manifest returns the manifest file name with its content type.
func (h *Handler) Manifest(name string) (int, []byte, string) {
	if h.manifests == nil || !fs.ValidPath(name) || name == "." {
		status, body := errorBody(http.StatusNotFound, errorNotFound, "")
		return status, body, "application/json"
	}
	data, err := fs.ReadFile(h.manifests, name)
	if err != nil {
		status, body := errorBody(http.StatusNotFound, errorNotFound, "")
		return status, body, "application/json"
	}
	ct := mime.TypeByExtension(path.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return http.StatusOK, data, ct
}

func errorBody(status int, code, message string) (int, []byte) {
	b, _ := json.Marshal(errorResponse{Error: code, Message: message})
	return status, b
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

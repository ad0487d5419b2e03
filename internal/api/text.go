package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/textutil"
)

// TextHandler exposes the small pure text toolbox so agents without local
// compute can offload trivial transforms.
type TextHandler struct {
	logger *zap.Logger
}

// NewTextHandler creates a new TextHandler.
func NewTextHandler(logger *zap.Logger) *TextHandler {
	return &TextHandler{logger: logger.Named("text_handler")}
}

// -----------------------------------------------------------------------------
// Request / response types
// -----------------------------------------------------------------------------

type processTextRequest struct {
	Text      string `json:"text"`
	Operation string `json:"operation"`
}

type processTextResponse struct {
	Operation string                 `json:"operation"`
	Result    map[string]interface{} `json:"result"`
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Process handles POST /v1/text/process.
func (h *TextHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req processTextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Operation == "" {
		ErrBadRequest(w, "operation is required")
		return
	}

	result, err := textutil.Process(req.Operation, req.Text)
	if err != nil {
		if errors.Is(err, textutil.ErrUnknownOperation) {
			ErrBadRequest(w, "unknown text operation")
			return
		}
		h.logger.Error("failed to process text", zap.String("operation", req.Operation), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, processTextResponse{Operation: req.Operation, Result: result})
}

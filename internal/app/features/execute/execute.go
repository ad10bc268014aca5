// Package execute proxies "run code" requests to a remote code-execution API
// speaking the Piston protocol.
//
// Endpoints (mounted at /api/execute):
//   - POST / - Run a snippet and return its combined output
package execute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apistatsstore "github.com/dalemusser/devsync/internal/app/store/apistats"
	"github.com/dalemusser/devsync/internal/app/system/apistats"
	"github.com/dalemusser/devsync/internal/app/system/jsonutil"
	"github.com/dalemusser/devsync/internal/domain/filetree"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DefaultURL is the public Piston endpoint.
const DefaultURL = "https://emkc.org/api/v2/piston/execute"

const (
	maxCodeBytes     = 256 * 1024
	maxResponseBytes = 1 << 20
)

// ErrNoOutput is returned when the remote API answers without a run result.
var ErrNoOutput = errors.New("execution returned no output")

// Request is the body of POST /api/execute. Language may be omitted when
// Filename is given; it is then derived from the extension.
type Request struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Filename string `json:"filename,omitempty"`
}

// Response is returned on success.
type Response struct {
	Output   string `json:"output"`
	Language string `json:"language"`
	Version  string `json:"version,omitempty"`
}

type pistonFile struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []pistonFile `json:"files"`
}

type pistonResponse struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Run      *struct {
		Output string `json:"output"`
		Code   *int   `json:"code"`
	} `json:"run"`
	Message string `json:"message"`
}

// Handler serves code execution requests.
type Handler struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler creates an execute handler that posts to url, bounding each
// remote call by timeout.
func NewHandler(url string, timeout time.Duration, logger *zap.Logger) *Handler {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Handler{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger,
	}
}

// Routes returns a chi.Router with the execute route mounted.
func Routes(h *Handler, recorder *apistats.Recorder) http.Handler {
	r := chi.NewRouter()
	r.Use(apistats.MiddlewareWithRecorder(recorder, apistatsstore.StatTypeExecute))
	r.Post("/", h.ExecuteHandler)
	return r
}

// ExecuteHandler handles POST /.
//
// Request body:
//
//	{"language": "python", "code": "print(1)"}
//
// Response (200 OK):
//
//	{"output": "1\n", "language": "python", "version": "3.10.0"}
func (h *Handler) ExecuteHandler(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := jsonutil.DecodeLimited(w, r, &req, maxCodeBytes); err != nil {
		if errors.Is(err, jsonutil.ErrBodyTooLarge) {
			jsonutil.TooLarge(w, err.Error())
			return
		}
		jsonutil.BadRequest(w, err.Error())
		return
	}

	lang := strings.TrimSpace(req.Language)
	if lang == "" && req.Filename != "" {
		lang = filetree.LanguageFor(req.Filename)
	}
	if lang == "" || lang == "plaintext" {
		jsonutil.BadRequest(w, "language is required")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		jsonutil.BadRequest(w, "code is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	start := time.Now()
	resp, err := h.run(ctx, lang, req)
	if err != nil {
		h.logger.Warn("code execution failed",
			zap.String("language", lang),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		jsonutil.Error(w, http.StatusBadGateway, err.Error())
		return
	}

	h.logger.Debug("code executed",
		zap.String("language", lang),
		zap.Duration("elapsed", time.Since(start)))
	jsonutil.OK(w, resp)
}

func (h *Handler) run(ctx context.Context, lang string, req Request) (Response, error) {
	body, err := json.Marshal(pistonRequest{
		Language: lang,
		Version:  "*",
		Files:    []pistonFile{{Name: req.Filename, Content: req.Code}},
	})
	if err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var pr pistonResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return Response{}, fmt.Errorf("decode response (status %d): %w", httpResp.StatusCode, err)
	}
	if pr.Run == nil {
		if pr.Message != "" {
			return Response{}, errors.New(pr.Message)
		}
		return Response{}, ErrNoOutput
	}

	return Response{
		Output:   pr.Run.Output,
		Language: pr.Language,
		Version:  pr.Version,
	}, nil
}

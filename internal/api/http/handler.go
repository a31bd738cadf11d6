package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/stratumdb/stratum/internal/gateway"
)

// maxBodyBytes caps request bodies. Batch inserts are the largest
// legitimate payloads; 8 MiB is generous for those.
const maxBodyBytes = 8 << 20

// GatewayHandler serves POST /v1/{operation}/{namespace} by
// forwarding to the gateway and relaying its envelope.
type GatewayHandler struct {
	gateway *gateway.Gateway
}

// NewGatewayHandler creates the handler.
func NewGatewayHandler(g *gateway.Gateway) *GatewayHandler {
	return &GatewayHandler{gateway: g}
}

func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	operation, namespace, ok := splitPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "expected /v1/{operation}/{namespace}", requestID)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", requestID)
		return
	}
	if len(payload) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", requestID)
		return
	}

	body := h.gateway.Handle(r.Context(), operation+"."+namespace, payload)

	w.WriteHeader(statusFor(body))
	w.Write(body)
}

func splitPath(path string) (operation, namespace string, ok bool) {
	rest, found := strings.CutPrefix(path, "/v1/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// statusFor maps the envelope's error code to an HTTP status.
func statusFor(body []byte) int {
	var envelope struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Success {
		return http.StatusOK
	}

	switch envelope.Error.Code {
	case "INVALID_JSON", "MISSING_FIELD", "VALIDATION_ERROR":
		return http.StatusBadRequest
	case "NOT_REGISTERED":
		return http.StatusNotFound
	case "LOCK_TIMEOUT", "CHECKSUM_MISMATCH":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HealthHandler serves GET /healthz.
type HealthHandler struct{}

func (HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// NewMux builds the HTTP routing table for the server.
func NewMux(g *gateway.Gateway, middleware func(http.Handler) http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/v1/", middleware(NewGatewayHandler(g)))
	mux.Handle("/healthz", HealthHandler{})
	return mux
}

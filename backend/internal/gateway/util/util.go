package util

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/shared"
)

// JSONResponse structure for successful responses
type JSONResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// JSONError structure for error responses
type JSONError struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WriteJSON wraps payload in the success envelope
func WriteJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	var response interface{}
	if code >= 200 && code < 300 {
		response = JSONResponse{Success: true, Data: payload}
	} else {
		response = JSONError{Success: false, Message: "Unknown error"}
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		zap.L().Warn("write JSON response", zap.Error(err))
	}
}

// WriteMessage writes a success envelope carrying only a message
func WriteMessage(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(JSONResponse{Success: true, Message: message}); err != nil {
		zap.L().Warn("write JSON response", zap.Error(err))
	}
}

// WriteJSONError writes the error envelope
func WriteJSONError(w http.ResponseWriter, code int, message string) {
	if code >= http.StatusInternalServerError {
		zap.L().Error("HTTP error", zap.Int("status", code), zap.String("message", message))
	} else {
		zap.L().Debug("HTTP error", zap.Int("status", code), zap.String("message", message))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(JSONError{Success: false, Message: message}); err != nil {
		zap.L().Warn("write JSON error response", zap.Error(err))
	}
}

// HTTPStatus maps a gRPC status code to its HTTP counterpart
func HTTPStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted, codes.FailedPrecondition:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// HandleGRPCError translates service status errors to HTTP responses
func HandleGRPCError(w http.ResponseWriter, err error) {
	st, ok := status.FromError(err)
	if !ok {
		WriteJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	code := HTTPStatus(st.Code())
	switch st.Code() {
	case codes.Unavailable:
		WriteJSONError(w, code, "Service Unavailable: the database is unreachable.")
	case codes.DeadlineExceeded:
		WriteJSONError(w, code, "Service Timeout: the request took too long to complete.")
	default:
		WriteJSONError(w, code, st.Message())
	}
}

// ExtractToken extracts the token from the Authorization header (Bearer <token>)
func ExtractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header missing")
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid authorization header format")
	}

	return parts[1], nil
}

// DecodeJSON reads a JSON request body of at most 1 MiB into dst
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

// QueryInt parses an integer query parameter, returning def when absent
func QueryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Errorf("%s must be an integer", key)
	}
	return v, nil
}

// QueryPage reads page and page_size
func QueryPage(r *http.Request) (shared.Page, error) {
	page, err := QueryInt(r, "page", 1)
	if err != nil {
		return shared.Page{}, err
	}
	size, err := QueryInt(r, "page_size", shared.DefaultPageSize)
	if err != nil {
		return shared.Page{}, err
	}
	return shared.Page{Page: page, PageSize: size}.Normalize(), nil
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/storefront/apiserver/internal/auth"
	"github.com/storefront/apiserver/internal/logger"
	"github.com/storefront/apiserver/internal/services"
	"github.com/storefront/apiserver/internal/storage"
	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/types"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxJSONBody = 1 << 20

type contextKey string

const contextPrincipalKey contextKey = "principal"

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrorResponse is the error payload. Stack is null in production.
type ErrorResponse struct {
	Message string  `json:"message"`
	Stack   *string `json:"stack"`
}

// Responder writes JSON error bodies, withholding diagnostics in production.
type Responder struct {
	Production bool
}

type httpError struct {
	status  int
	message string
	err     error
}

func (e *httpError) Error() string { return e.message }
func (e *httpError) Unwrap() error { return e.err }

// notFoundAs gives a missing-record error a resource-specific message.
func notFoundAs(err error, message string) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, storage.ErrObjectNotFound) {
		return &httpError{status: http.StatusNotFound, message: message, err: err}
	}
	return err
}

// ErrRouteNotFound is the error for a request no route matched.
func ErrRouteNotFound(r *http.Request) error {
	return &httpError{status: http.StatusNotFound, message: "Not Found - " + r.URL.RequestURI()}
}

func badRequest(message string) error {
	return &httpError{status: http.StatusBadRequest, message: message}
}

// Error maps err to a status code and writes it.
func (resp Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
		if resp.Production && !errors.Is(err, services.ErrPaymentProcessor) {
			message = "internal server error"
		}
	}

	body := ErrorResponse{Message: message}
	if !resp.Production {
		stack := fmt.Sprintf("%v\n%s", err, debug.Stack())
		body.Stack = &stack
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, string) {
	var he *httpError
	if errors.As(err, &he) {
		return he.status, he.message
	}
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, services.ErrInvalidLogin):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidOrder),
		errors.Is(err, services.ErrConflict):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeJSON reads a bounded JSON body into dst and validates its struct tags.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest("invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		return badRequest(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func init() {
	// Validation messages name fields as clients send them.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

func parseObjectID(r *http.Request, param string) (primitive.ObjectID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, &httpError{
			status:  http.StatusNotFound,
			message: "resource not found",
			err:     store.ErrNotFound,
		}
	}
	return id, nil
}

func withPrincipal(ctx context.Context, p types.Principal) context.Context {
	return context.WithValue(ctx, contextPrincipalKey, p)
}

// principalFrom returns the caller resolved by the Access Gate, or the zero
// Principal for anonymous requests.
func principalFrom(ctx context.Context) types.Principal {
	p, _ := ctx.Value(contextPrincipalKey).(types.Principal)
	return p
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

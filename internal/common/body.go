package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// DefaultBodyLimit caps request bodies for routes that do not set a limit.
const DefaultBodyLimit int64 = 64 << 10

// Every route picks exactly one body stage. Raw hands the handler the bytes as
// they arrived on the wire; Parsed decodes and validates JSON first. Nothing
// else in the router reads request bodies.

// RawHandler receives the unmodified request body.
type RawHandler func(w http.ResponseWriter, r *http.Request, body []byte)

// ParsedHandler receives a decoded and validated request body.
type ParsedHandler[T any] func(w http.ResponseWriter, r *http.Request, req T)

// Raw wraps next in the raw-bytes stage.
func Raw(limit int64, next RawHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r, limit)
		if err != nil {
			WriteError(w, err)
			return
		}
		next(w, r, body)
	}
}

// Parsed wraps next in the parsed-body stage. An empty body decodes to the zero
// value of T so that missing fields surface as validation errors.
func Parsed[T any](limit int64, v *validator.Validate, next ParsedHandler[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r, limit)
		if err != nil {
			WriteError(w, err)
			return
		}
		var req T
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				WriteError(w, NewAppError(CodeInvalidBody, "invalid JSON body", http.StatusBadRequest, err))
				return
			}
		}
		if v != nil && reflect.Indirect(reflect.ValueOf(req)).Kind() == reflect.Struct {
			if err := v.Struct(req); err != nil {
				WriteError(w, validationError(err))
				return
			}
		}
		next(w, r, req)
	}
}

// NewValidator returns a validator that reports JSON field names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func validationError(err error) *AppError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Validation("invalid request", err)
	}
	fields := make([]FieldError, 0, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
		names = append(names, fe.Field())
	}
	appErr := Validation(fmt.Sprintf("invalid or missing fields: %s", strings.Join(names, ", ")), err)
	appErr.Details = fields
	return appErr
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, NewAppError(CodeBodyTooLarge, "request entity too large", http.StatusRequestEntityTooLarge, err)
		}
		return nil, NewAppError(CodeInvalidBody, "unable to read request body", http.StatusBadRequest, err)
	}
	return body, nil
}

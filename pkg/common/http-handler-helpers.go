package common

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/matst80/woof/pkg/common/jsoncompat"
)

const maxBodyBytes = 1 << 20

// HttpError carries the status a handler wants written for an error.
type HttpError struct {
	Status int
	Err    error
}

func (e *HttpError) Error() string {
	return e.Err.Error()
}

func (e *HttpError) Unwrap() error {
	return e.Err
}

func WithStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	return &HttpError{Status: status, Err: err}
}

// StatusOf returns the status attached to err, or 500.
func StatusOf(err error) int {
	var he *HttpError
	if errors.As(err, &he) {
		return he.Status
	}
	return http.StatusInternalServerError
}

// Status is returned by a JsonHandler func to answer with a status other
// than 200.
type Status struct {
	Code int
	Data any
}

// JsonHandler writes the value returned by fn as json. Errors are written
// with http.Error using the status from StatusOf.
func JsonHandler(fn func(w http.ResponseWriter, r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			RespondToOptions(w, r)
			return
		}
		data, err := fn(w, r)
		if err != nil {
			status := StatusOf(err)
			if status >= http.StatusInternalServerError {
				log.Printf("error handling %s %s: %v", r.Method, r.URL.Path, err)
			}
			http.Error(w, err.Error(), status)
			return
		}
		switch v := data.(type) {
		case nil:
			w.WriteHeader(http.StatusNoContent)
		case Status:
			WriteJson(w, v.Code, v.Data)
		default:
			WriteJson(w, http.StatusOK, data)
		}
	}
}

func WriteJson(w http.ResponseWriter, status int, data any) {
	b, err := jsoncompat.Marshal(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	}
	w.WriteHeader(status)
	w.Write(b)
}

// DecodeJson reads the request body into v, failing with 400.
func DecodeJson(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return WithStatus(http.StatusBadRequest, err)
	}
	if err := jsoncompat.Unmarshal(data, v); err != nil {
		return WithStatus(http.StatusBadRequest, err)
	}
	return nil
}

func RespondToOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if origin := r.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	w.WriteHeader(http.StatusAccepted)
}

package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxRequestBodyBytes = 524288

// ResponseData is the body of a JSON API response.
type ResponseData map[string]string

// UnmarshalJSONRequestBody decodes a JSON request body into dst, translating
// decoder failures into client-facing status codes.
func UnmarshalJSONRequestBody(w http.ResponseWriter, r *http.Request, dst interface{}) (statusCode int, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err = decoder.Decode(&dst); err != nil {
		var unmarshalTypeError *json.UnmarshalTypeError
		var syntaxError *json.SyntaxError
		switch {
		case errors.As(err, &unmarshalTypeError):
			fallthrough
		case errors.As(err, &syntaxError):
			fallthrough
		case errors.Is(err, io.ErrUnexpectedEOF):
			err = fmt.Errorf("request body contains invalid JSON")
			statusCode = http.StatusBadRequest
			return
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			err = fmt.Errorf("request body contains unknown field")
			statusCode = http.StatusBadRequest
			return
		case errors.Is(err, io.EOF):
			err = fmt.Errorf("request body is empty")
			statusCode = http.StatusBadRequest
			return
		case err.Error() == "http: request body too large":
			err = fmt.Errorf("request body too large")
			statusCode = http.StatusBadRequest
			return
		default:
			statusCode = http.StatusInternalServerError
			return
		}
	}
	return
}

// WriteResponse writes a JSON response with the given status code.
func WriteResponse(w http.ResponseWriter, statusCode int, response ResponseData) {
	WriteJSONResponse(w, statusCode, response)
}

// WriteJSONResponse marshals v as the response body.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"failed to write response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}

// WriteErrorResponse writes a JSON error body with the given status code.
func WriteErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	WriteResponse(w, statusCode, ResponseData{
		"error": message,
	})
}

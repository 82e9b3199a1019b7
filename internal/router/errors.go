package router

import (
	"context"
	"errors"
	"net"
	"reflect"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

// ErrorType names the underlying cause of a provider error for the error log,
// e.g. "APIError", "RequestError" or "Timeout".
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "Canceled"
	}

	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) {
		return "APIError"
	}
	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) {
		return "RequestError"
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return "APIStatusError"
	}

	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch name := t.Name(); name {
	case "", "errorString":
		return "Error"
	default:
		return name
	}
}

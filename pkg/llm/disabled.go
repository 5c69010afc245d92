package llm

import (
	"context"
	"errors"
)

// ErrDisabled is returned when no completion backend is configured.
var ErrDisabled = errors.New("llm: no backend configured")

type disabledClient struct{}

func (disabledClient) Complete(context.Context, Request) (*Response, error) {
	return nil, ErrDisabled
}

// Disabled returns a Client that fails every request with ErrDisabled.
// It stands in when no API key is configured so callers can treat the
// backend as always present.
func Disabled() Client {
	return disabledClient{}
}

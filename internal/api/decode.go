package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"marginalia/internal/services"
)

// MaxBodyBytes bounds request bodies. Transcripts of a four-hour session fit
// comfortably.
const MaxBodyBytes = 4 << 20

// Decode reads a JSON body into dst. An empty body leaves dst untouched.
// Unknown fields are rejected so client typos surface as 400s.
func Decode(body io.Reader, dst any) error {
	if body == nil {
		return nil
	}
	decoder := json.NewDecoder(io.LimitReader(body, MaxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return services.Wrap(services.ErrValidation, "", "decode request", fmt.Sprintf("invalid json body: %v", err), nil)
	}
	if decoder.More() {
		return services.Wrap(services.ErrValidation, "", "decode request", "body must contain a single json object", nil)
	}
	return nil
}

package converter

import (
	"github.com/tylercunnion/go-replay/backend/payload"
)

// Converter translates between Go values and the opaque payloads carried by
// history events and decision results.
type Converter interface {
	// To converts the given value to a payload
	To(v any) (payload.Payload, error)

	// From converts the given payload to a value
	From(data payload.Payload, vptr any) error
}

var DefaultConverter Converter = &jsonConverter{}

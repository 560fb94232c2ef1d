// Package integrity rejects decision payloads that try to rewrite who applied,
// when, or for what.
package integrity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProtectedKeys may never appear in an update payload.
var ProtectedKeys = []string{
	"id",
	"_id",
	"discordId",
	"applicantId",
	"discordName",
	"applicantName",
	"discordAvatar",
	"applicantAvatar",
	"type",
	"createdAt",
}

// ErrProtectedField is wrapped when a payload supplies a protected key.
var ErrProtectedField = errors.New("protected field supplied")

// ErrFieldAdded is wrapped when a payload introduces a fields key absent from the original.
var ErrFieldAdded = errors.New("field not present in original")

// ErrMalformedFields is wrapped when the payload's fields value is not an object.
var ErrMalformedFields = errors.New("fields must be an object")

// Check returns nil when payload leaves original's identity and field key set
// intact. originalKeys is the stored application's field key set. Omitting
// keys is allowed.
func Check(originalKeys []string, payload map[string]json.RawMessage) error {
	for _, key := range ProtectedKeys {
		if _, ok := payload[key]; ok {
			return fmt.Errorf("%w: %s", ErrProtectedField, key)
		}
	}

	raw, ok := payload["fields"]
	if !ok || isNull(raw) {
		return nil
	}

	var proposed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &proposed); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFields, err)
	}
	if proposed == nil {
		return fmt.Errorf("%w", ErrMalformedFields)
	}

	known := make(map[string]struct{}, len(originalKeys))
	for _, k := range originalKeys {
		known[k] = struct{}{}
	}
	for k := range proposed {
		if _, ok := known[k]; !ok {
			return fmt.Errorf("%w: %s", ErrFieldAdded, k)
		}
	}
	return nil
}

// IsIntact reports whether Check accepts payload.
func IsIntact(originalKeys []string, payload map[string]json.RawMessage) bool {
	return Check(originalKeys, payload) == nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ApplicationStatus defines lifecycle states for applications.
type ApplicationStatus string

const (
	// ApplicationStatusPending indicates the application is awaiting review.
	ApplicationStatusPending ApplicationStatus = "pending"
	// ApplicationStatusApproved indicates the application was accepted.
	ApplicationStatusApproved ApplicationStatus = "approved"
	// ApplicationStatusRejected indicates the application was denied.
	ApplicationStatusRejected ApplicationStatus = "rejected"
)

// Terminal reports whether no further transition is defined from s.
func (s ApplicationStatus) Terminal() bool {
	return s == ApplicationStatusApproved || s == ApplicationStatusRejected
}

// Field is a single submitted form answer.
type Field struct {
	Key   string
	Value string
}

// Fields is an ordered set of form answers. It serializes as a JSON object
// whose key order is the submission order.
type Fields []Field

// Get returns the value stored under key.
func (f Fields) Get(key string) (string, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return "", false
}

// Keys returns the field keys in order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for _, field := range f {
		keys = append(keys, field.Key)
	}
	return keys
}

// MarshalJSON implements json.Marshaler.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(field.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(field.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. Numbers and booleans are kept
// as their literal text.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("fields must be a JSON object")
	}

	out := Fields{}
	seen := make(map[string]struct{})
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.New("fields key must be a string")
		}

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var value string
		switch v := raw.(type) {
		case string:
			value = v
		case json.Number:
			value = v.String()
		case bool:
			value = fmt.Sprintf("%t", v)
		case nil:
			value = ""
		default:
			return fmt.Errorf("field %q must be a string or number", key)
		}

		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate field %q", key)
		}
		seen[key] = struct{}{}
		out = append(out, Field{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*f = out
	return nil
}

// Value implements driver.Valuer so Fields is stored as JSON text.
func (f Fields) Value() (driver.Value, error) {
	b, err := f.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (f *Fields) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = nil
		return nil
	case string:
		return f.UnmarshalJSON([]byte(v))
	case []byte:
		return f.UnmarshalJSON(v)
	default:
		return fmt.Errorf("unsupported fields column type %T", src)
	}
}

// Application is a typed, user-submitted request awaiting staff review.
type Application struct {
	ID              string            `gorm:"primaryKey;size:36" json:"id"`
	Type            string            `gorm:"size:32;not null;index" json:"type"`
	ApplicantID     string            `gorm:"size:20;not null;index" json:"discordId"`
	ApplicantName   string            `gorm:"size:100;not null" json:"discordName"`
	ApplicantAvatar string            `gorm:"size:255" json:"discordAvatar"`
	Fields          Fields            `gorm:"type:text;not null" json:"fields"`
	Status          ApplicationStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	RejectionReason string            `gorm:"type:text" json:"rejectionReason,omitempty"`
	CreatedAt       time.Time         `gorm:"not null;index" json:"createdAt"`
	UpdatedAt       *time.Time        `gorm:"autoUpdateTime:false" json:"updatedAt,omitempty"`
	UpdatedByID     string            `gorm:"size:20" json:"-"`
	UpdatedByName   string            `gorm:"size:100" json:"updatedBy,omitempty"`
}

// StatusChange is the patch applied by a decision.
type StatusChange struct {
	Status          ApplicationStatus
	RejectionReason string
	DecidedAt       time.Time
	DecidedByID     string
	DecidedByName   string
}

package value

import (
	"encoding/json"
	"fmt"

	"github.com/lodeworks/lode/internal/canon"
)

// ID identifies a Value. Production ids are UUIDv7 strings; the two
// sentinel values use fixed well-known ids.
type ID string

// Well-known ids for the per-runtime sentinel values. Sentinels are
// never persisted; every archive rejects them.
const (
	NotSetID ID = "00000000-0000-0000-0000-000000000001"
	NoneID   ID = "00000000-0000-0000-0000-000000000002"
)

// IsSentinel reports whether the id names one of the two sentinel values.
func (id ID) IsSentinel() bool {
	return id == NotSetID || id == NoneID
}

// Status is the lifecycle state of a Value. The transition NOT_SET ->
// {SET, NONE, DEFAULT} happens exactly once, at creation; all three
// target states are terminal for a given Value instance.
type Status string

const (
	StatusNotSet  Status = "not_set"
	StatusNone    Status = "none"
	StatusDefault Status = "default"
	StatusSet     Status = "set"
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotSet, StatusNone, StatusDefault, StatusSet:
		return true
	}
	return false
}

// unsetMarker is the raw-input sentinel meaning "no input was provided
// at all", as opposed to an explicit nil/none input.
type unsetMarker struct{}

// Unset is passed as raw data to signal a NOT_SET value.
var Unset = unsetMarker{}

// IsUnset reports whether raw is the Unset sentinel.
func IsUnset(raw any) bool {
	_, ok := raw.(unsetMarker)
	return ok
}

// Schema describes the typed slot a Value fills: the data type name,
// type-specific configuration, whether the slot may be empty, and an
// optional default materialized when no input is given.
type Schema struct {
	TypeName   string       `json:"type_name"`
	TypeConfig canon.Object `json:"type_config,omitempty"`
	Optional   bool         `json:"optional,omitempty"`
	Default    canon.Value  `json:"-"`
}

// schemaJSON is the wire form of Schema. Default needs explicit
// handling because canon.Value is an interface.
type schemaJSON struct {
	TypeName   string          `json:"type_name"`
	TypeConfig canon.Object    `json:"type_config,omitempty"`
	Optional   bool            `json:"optional,omitempty"`
	Default    json.RawMessage `json:"default,omitempty"`
}

// MarshalJSON implements json.Marshaler for Schema.
func (s Schema) MarshalJSON() ([]byte, error) {
	out := schemaJSON{
		TypeName:   s.TypeName,
		TypeConfig: s.TypeConfig,
		Optional:   s.Optional,
	}
	if s.Default != nil {
		b, err := canon.Marshal(s.Default)
		if err != nil {
			return nil, fmt.Errorf("marshal schema default: %w", err)
		}
		out.Default = b
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler for Schema.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw schemaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.TypeName = raw.TypeName
	s.TypeConfig = raw.TypeConfig
	s.Optional = raw.Optional
	s.Default = nil
	if len(raw.Default) > 0 {
		def, err := canon.Unmarshal(raw.Default)
		if err != nil {
			return fmt.Errorf("unmarshal schema default: %w", err)
		}
		s.Default = def
	}
	return nil
}

// Value is the atomic unit of data: a typed, content-hashed, provenance
// tracked record. Once Status is SET or DEFAULT, Hash and Size never
// change; "updating" data always produces a new Value with a new id.
type Value struct {
	ID                 ID       `json:"id"`
	Schema             Schema   `json:"schema"`
	Status             Status   `json:"status"`
	Size               int64    `json:"size"`
	Hash               string   `json:"hash"`
	Pedigree           Pedigree `json:"pedigree"`
	PedigreeOutputName string   `json:"pedigree_output_name,omitempty"`
}

// IsSet reports whether the value carries materialized data (SET or
// DEFAULT status).
func (v *Value) IsSet() bool {
	return v.Status == StatusSet || v.Status == StatusDefault
}

// HasValidHash reports whether the value's hash is a real content hash
// rather than the invalid/deferred sentinel.
func (v *Value) HasValidHash() bool {
	return v.IsSet() && v.Hash != canon.InvalidHash && v.Hash != ""
}

// DataTypeName returns the name of the type contract implementation
// that governs this value.
func (v *Value) DataTypeName() string {
	return v.Schema.TypeName
}

// NewNotSetValue builds the per-runtime NOT_SET sentinel value.
func NewNotSetValue() *Value {
	return &Value{
		ID:       NotSetID,
		Schema:   Schema{TypeName: "none"},
		Status:   StatusNotSet,
		Hash:     canon.InvalidHash,
		Pedigree: Orphan(),
	}
}

// NewNoneValue builds the per-runtime NONE sentinel value.
func NewNoneValue() *Value {
	return &Value{
		ID:       NoneID,
		Schema:   Schema{TypeName: "none", Optional: true},
		Status:   StatusNone,
		Hash:     canon.InvalidHash,
		Pedigree: Orphan(),
	}
}

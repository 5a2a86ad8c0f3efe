package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PseudoResource is the name of the resource holding attributes of the deployment target itself
// like the region and account. It is not part of the descriptor but can be referenced by values.
const PseudoResource = "AWS"

const (
	PseudoRegion    = "Region"
	PseudoAccountID = "AccountId"
)

// Ref points at an attribute a resource produces when it is applied. Refs are resolved by the
// provisioning engine right before the resource consuming them is submitted.
type Ref struct {
	Resource  string `json:"resource" yaml:"resource" validate:"required"`
	Attribute string `json:"attribute" yaml:"attribute" validate:"required"`
}

func (r Ref) String() string {
	return fmt.Sprintf("${%s.%s}", r.Resource, r.Attribute)
}

// Value is either a literal or a reference to an attribute of another resource.
type Value struct {
	Literal string `json:"literal,omitempty" yaml:"literal,omitempty"`
	Ref     *Ref   `json:"ref,omitempty" yaml:"ref,omitempty"`
}

func Literal(s string) Value {
	return Value{Literal: s}
}

func RefTo(resource, attribute string) Value {
	return Value{Ref: &Ref{Resource: resource, Attribute: attribute}}
}

func (v Value) IsRef() bool {
	return v.Ref != nil
}

func (v Value) String() string {
	if v.Ref != nil {
		return v.Ref.String()
	}
	return v.Literal
}

// SecretRef references a single field of a Secret. Values referenced this way are handed to
// containers through the secret injection layer and never through the plain environment.
type SecretRef struct {
	Secret string `json:"secret" yaml:"secret" validate:"required"`
	Field  string `json:"field" yaml:"field" validate:"required"`
}

func (s SecretRef) String() string {
	return fmt.Sprintf("secret:%s#%s", s.Secret, s.Field)
}

// MarshalJSON renders literals as plain strings and references as objects.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Ref != nil {
		return json.Marshal(struct {
			Ref *Ref `json:"ref"`
		}{v.Ref})
	}
	return json.Marshal(v.Literal)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var literal string
	if err := json.Unmarshal(data, &literal); err == nil {
		*v = Literal(literal)
		return nil
	}

	var ref struct {
		Ref *Ref `json:"ref"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("value must be a string or a reference: %v", err)
	}
	if ref.Ref == nil {
		return errors.New("value must be a string or a reference")
	}
	*v = Value{Ref: ref.Ref}
	return nil
}

func (v Value) MarshalYAML() (any, error) {
	if v.Ref != nil {
		return map[string]*Ref{"ref": v.Ref}, nil
	}
	return v.Literal, nil
}

// Duration is a [time.Duration] rendered as a duration string like "45m0s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Seconds() int32 {
	return int32(time.Duration(d) / time.Second)
}

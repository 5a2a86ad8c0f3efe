package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"github.com/monica-infra/deployer/pkg/config"
	"github.com/monica-infra/deployer/pkg/provision"
)

// Codec encodes deployment state for storage.
type Codec interface {
	Encode(state *provision.State) ([]byte, error)
	Decode(data []byte) (*provision.State, error)
	// Extension is appended to the key of stored state documents.
	Extension() string
	ContentType() string
}

// NewCodec returns an age codec if a recipient is configured. Otherwise sensitive outputs are
// redacted before the state is stored.
func NewCodec(cfg config.State) (Codec, error) {
	if cfg.AgeRecipient == "" {
		return RedactingCodec{}, nil
	}
	return NewAgeCodec(cfg.AgeRecipient, cfg.AgeIdentity)
}

// RedactingCodec stores state as JSON without the values of sensitive outputs.
type RedactingCodec struct{}

func (RedactingCodec) Encode(state *provision.State) ([]byte, error) {
	return json.MarshalIndent(state.Redacted(), "", "  ")
}

func (RedactingCodec) Decode(data []byte) (*provision.State, error) {
	var state provision.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %v", err)
	}
	return &state, nil
}

func (RedactingCodec) Extension() string   { return ".json" }
func (RedactingCodec) ContentType() string { return "application/json" }

// AgeCodec stores the complete state encrypted to an X25519 recipient. Decoding requires the
// matching identity.
type AgeCodec struct {
	recipient age.Recipient
	identity  age.Identity
}

// NewAgeCodec parses the recipient and the optional identity.
func NewAgeCodec(recipient, identity string) (*AgeCodec, error) {
	r, err := age.ParseX25519Recipient(strings.TrimSpace(recipient))
	if err != nil {
		return nil, fmt.Errorf("invalid age recipient: %v", err)
	}

	c := &AgeCodec{recipient: r}
	if identity != "" {
		i, err := age.ParseX25519Identity(strings.TrimSpace(identity))
		if err != nil {
			return nil, fmt.Errorf("invalid age identity: %v", err)
		}
		c.identity = i
	}
	return c, nil
}

func (c *AgeCodec) Encode(state *provision.State) ([]byte, error) {
	plain, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %v", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.recipient)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plain); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *AgeCodec) Decode(data []byte) (*provision.State, error) {
	if c.identity == nil {
		return nil, errors.New("no age identity configured to decrypt state")
	}

	r, err := age.Decrypt(bytes.NewReader(data), c.identity)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %v", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %v", err)
	}

	var state provision.State
	if err := json.Unmarshal(plain, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %v", err)
	}
	return &state, nil
}

func (c *AgeCodec) Extension() string   { return ".json.age" }
func (c *AgeCodec) ContentType() string { return "application/octet-stream" }

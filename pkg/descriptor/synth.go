package descriptor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/monica-infra/deployer/internal/errdef"
	"github.com/monica-infra/deployer/pkg/model"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat returns the synthesis format with the given name. YAML is the default.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "", "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", errdef.NewBadRequest("unknown format %q, want one of yaml, json", name)
}

// Synth renders the descriptor as a document. Secret values are never part of a descriptor, only
// references to them.
func Synth(d *model.Descriptor, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to render descriptor %q as json: %v", d.Name, err)
		}
		return append(data, '\n'), nil
	case FormatYAML, "":
		var buf bytes.Buffer
		encoder := yaml.NewEncoder(&buf)
		encoder.SetIndent(2)
		if err := encoder.Encode(d); err != nil {
			return nil, fmt.Errorf("failed to render descriptor %q as yaml: %v", d.Name, err)
		}
		if err := encoder.Close(); err != nil {
			return nil, fmt.Errorf("failed to render descriptor %q as yaml: %v", d.Name, err)
		}
		return buf.Bytes(), nil
	}
	return nil, errdef.NewBadRequest("unknown format %q", format)
}

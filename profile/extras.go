package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Extras are the fields of the information document set by the operator.
type Extras struct {
	License     string      `mapstructure:"license"`
	Attribution string      `mapstructure:"attribution"`
	Logo        string      `mapstructure:"logo"`
	Service     interface{} `mapstructure:"service"`
}

// ExtrasError reports extra fields that cannot be set.
type ExtrasError struct {
	Keys []string
	Err  error
}

func (e *ExtrasError) Error() string {
	if len(e.Keys) > 0 {
		return fmt.Sprintf("profile: fields cannot be overridden: %s", strings.Join(e.Keys, ", "))
	}
	return fmt.Sprintf("profile: invalid extra fields: %v", e.Err)
}

func (e *ExtrasError) Unwrap() error {
	return e.Err
}

// DecodeExtras reads the extra fields, any key besides license,
// attribution, logo and service is an error.
func DecodeExtras(m map[string]interface{}) (*Extras, error) {
	var extras Extras
	var md mapstructure.Metadata

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: &md,
		Result:   &extras,
	})
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(m); err != nil {
		return nil, &ExtrasError{Err: err}
	}

	if len(md.Unused) > 0 {
		keys := append([]string(nil), md.Unused...)
		sort.Strings(keys)
		return nil, &ExtrasError{Keys: keys}
	}

	return &extras, nil
}

package reporter

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/festats/internal/core"
)

// DecodeConfig decodes a reporter's `config:` map into out, which should
// carry `mapstructure` tags and hold the defaults. Numbers may arrive as
// float64 or strings and durations as strings such as "200ms".
func DecodeConfig(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}

// FeatureNamesAware is implemented by reporters that label each value of a
// vector, such as file and table exporters. The names are set once, before
// Start.
type FeatureNamesAware interface {
	SetFeatureNames(names []string)
}

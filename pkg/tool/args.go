package tool

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeArguments decodes object-form arguments into a typed struct using
// the struct's json tags. Scalar types are converted leniently, matching
// how models frequently send numbers as strings.
func DecodeArguments(args Arguments, out any) error {
	if args.KV == nil {
		return fmt.Errorf("arguments are not a JSON object")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(args.KV); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}

	return nil
}

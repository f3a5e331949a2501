package steps

import (
	"github.com/mitchellh/mapstructure"
)

// Decode copies a raw step config into a typed struct using its json tags.
func Decode(action string, config map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		Squash:           true,
	})
	if err != nil {
		return NewConfigError(action, "", err.Error())
	}

	err = decoder.Decode(config)
	if err != nil {
		return NewConfigError(action, "", err.Error())
	}

	return nil
}

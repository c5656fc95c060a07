package configloader

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

var (
	boolType  = reflect.TypeOf(true)
	sliceType = reflect.TypeOf([]string(nil))
)

// decoderConfig собирает mapstructure под viper.AllSettings(): из ENV всё
// приходит строками, поэтому слабая типизация и свои хуки для bool/[]string.
func decoderConfig(target interface{}, strict bool) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      strict,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			csvHook,
			boolHook,
		),
	}
}

func decode(settings map[string]interface{}, target interface{}, strict bool) error {
	d, err := mapstructure.NewDecoder(decoderConfig(target, strict))
	if err != nil {
		return err
	}
	return d.Decode(settings)
}

// csvHook: "a, b,,c" → [a b c].
func csvHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != sliceType {
		return data, nil
	}
	var out []string
	for _, part := range strings.Split(data.(string), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

func boolHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != boolType {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

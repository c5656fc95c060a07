// Package configloader склеивает конфиг из defaults, YAML-файла, ENV и
// флагов CLI через viper и раскладывает его в структуру.
package configloader

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Options: источники конфигурации. Приоритет по возрастанию:
// Defaults, файл Path, ENV с префиксом EnvPrefix, Overrides.
type Options struct {
	Path      string
	EnvPrefix string
	Defaults  map[string]interface{}
	Overrides map[string]interface{}

	// Strict отклоняет ключи файла, которых нет в целевой структуре.
	Strict bool
}

// Validator реализуют конфиги с собственной проверкой.
type Validator interface {
	Validate() error
}

// Load заполняет cfgPtr и вызывает Validate, если он реализован.
func Load(opts Options, cfgPtr interface{}) error {
	v, err := opts.viper()
	if err != nil {
		return err
	}
	if err := decode(v.AllSettings(), cfgPtr, opts.Strict); err != nil {
		return fmt.Errorf("configloader: decode: %w", err)
	}
	if val, ok := cfgPtr.(Validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("configloader: invalid config: %w", err)
		}
	}
	return nil
}

func (o Options) viper() (*viper.Viper, error) {
	v := viper.New()
	for k, val := range o.Defaults {
		v.SetDefault(k, val)
	}

	// producer.send_interval → IGGY_PRODUCER_SEND_INTERVAL
	v.SetEnvPrefix(o.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if o.Path != "" {
		v.SetConfigFile(o.Path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("configloader: read %q: %w", o.Path, err)
		}
	}
	for k, val := range o.Overrides {
		v.Set(k, val)
	}
	return v, nil
}

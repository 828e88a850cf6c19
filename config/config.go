// Package config holds the settings a client session is initialized with.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
)

// Defaults applied by Default.
const (
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultPollWait     = 10 * time.Millisecond
	DefaultDialTimeout  = 5 * time.Second
	DefaultDialAttempts = 3
	DefaultDialDelay    = 200 * time.Millisecond
	DefaultMaxFrameSize = 1 << 20
)

var validate = validator.New()

// Config configures a client session.
type Config struct {
	// Classpath lists the scripts or script directories the managed runtime
	// evaluates at startup, in order.
	Classpath []string `yaml:"classpath" mapstructure:"classpath" validate:"dive,required"`

	LogLevel  string `yaml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"oneof=text json"`

	// PollWait bounds how long one update waits for incoming frames.
	PollWait time.Duration `yaml:"poll_wait" mapstructure:"poll_wait" validate:"gte=0"`

	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"gt=0"`
	DialAttempts uint          `yaml:"dial_attempts" mapstructure:"dial_attempts" validate:"gte=1"`
	DialDelay    time.Duration `yaml:"dial_delay" mapstructure:"dial_delay" validate:"gte=0"`

	// StrictRegistration rejects a second registration under a taken name
	// instead of replacing the entry.
	StrictRegistration bool `yaml:"strict_registration" mapstructure:"strict_registration"`

	MaxFrameSize int `yaml:"max_frame_size" mapstructure:"max_frame_size" validate:"gt=0"`
}

// Default returns a Config with every field set to its default.
func Default() Config {
	return Config{
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
		PollWait:     DefaultPollWait,
		DialTimeout:  DefaultDialTimeout,
		DialAttempts: DefaultDialAttempts,
		DialDelay:    DefaultDialDelay,
		MaxFrameSize: DefaultMaxFrameSize,
	}
}

// Load reads a YAML file. Keys missing from the file keep their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("unable to parse config file: %w", err)
	}
	return FromMap(raw)
}

// FromMap decodes settings from a generic map, such as one parsed from YAML
// or JSON. Durations may be given as strings ("250ms") and the classpath as
// a comma separated string. Unknown keys are rejected.
func FromMap(m map[string]any) (Config, error) {
	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: false,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(m); err != nil {
		return Config{}, fmt.Errorf("%w: config: %v", domainerrors.ErrInvalidArgument, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: config: %v", domainerrors.ErrInvalidArgument, err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("%w: config: %s", domainerrors.ErrInvalidArgument, strings.Join(msgs, "; "))
}

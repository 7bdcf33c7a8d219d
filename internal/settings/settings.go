package settings

import (
	"fmt"
	"strconv"
	"strings"
)

// Setting keys as stored in the settings table.
const (
	KeyEnabled      = "enabled"
	KeyAPIKey       = "apiKey"
	KeyModel        = "model"
	KeyTemperature  = "temperature"
	KeyMaxTokens    = "maxTokens"
	KeyCacheEnabled = "cacheEnabled"
)

// Keys lists every known setting key in display order.
var Keys = []string{
	KeyEnabled,
	KeyAPIKey,
	KeyModel,
	KeyTemperature,
	KeyMaxTokens,
	KeyCacheEnabled,
}

// Models offered by the settings form. Any model id is accepted by Set.
var Models = []string{
	"gpt-3.5-turbo-instruct",
	"davinci-002",
	"babbage-002",
}

const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Snapshot is a point-in-time copy of all settings.
type Snapshot struct {
	Enabled      bool
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int
	CacheEnabled bool
}

// Defaults returns the settings used for any key that was never written.
func Defaults() Snapshot {
	return Snapshot{
		Enabled:      true,
		APIKey:       "",
		Model:        "gpt-3.5-turbo-instruct",
		Temperature:  0.3,
		MaxTokens:    50,
		CacheEnabled: true,
	}
}

// Validate checks value ranges.
func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("model must not be empty")
	}
	if s.Temperature < MinTemperature || s.Temperature > MaxTemperature {
		return fmt.Errorf("temperature %v out of range [%v, %v]", s.Temperature, MinTemperature, MaxTemperature)
	}
	if s.MaxTokens <= 0 {
		return fmt.Errorf("maxTokens must be positive, got %d", s.MaxTokens)
	}
	return nil
}

// HasCredential reports whether an API key is configured.
func (s Snapshot) HasCredential() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// Redacted returns a copy safe to log.
func (s Snapshot) Redacted() Snapshot {
	if s.APIKey != "" {
		s.APIKey = "***"
	}
	return s
}

// Values encodes the snapshot as stored strings.
func (s Snapshot) Values() map[string]string {
	return map[string]string{
		KeyEnabled:      strconv.FormatBool(s.Enabled),
		KeyAPIKey:       s.APIKey,
		KeyModel:        s.Model,
		KeyTemperature:  strconv.FormatFloat(s.Temperature, 'f', -1, 64),
		KeyMaxTokens:    strconv.Itoa(s.MaxTokens),
		KeyCacheEnabled: strconv.FormatBool(s.CacheEnabled),
	}
}

// Apply returns a copy of s with one key replaced by its parsed value.
func (s Snapshot) Apply(key, value string) (Snapshot, error) {
	value = strings.TrimSpace(value)
	switch key {
	case KeyEnabled:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return s, fmt.Errorf("%s: %w", key, err)
		}
		s.Enabled = b
	case KeyAPIKey:
		s.APIKey = value
	case KeyModel:
		s.Model = value
	case KeyTemperature:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return s, fmt.Errorf("%s: %w", key, err)
		}
		s.Temperature = f
	case KeyMaxTokens:
		n, err := strconv.Atoi(value)
		if err != nil {
			return s, fmt.Errorf("%s: %w", key, err)
		}
		s.MaxTokens = n
	case KeyCacheEnabled:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return s, fmt.Errorf("%s: %w", key, err)
		}
		s.CacheEnabled = b
	default:
		return s, fmt.Errorf("unknown setting %q", key)
	}
	return s, nil
}

// FromValues decodes stored strings. Missing keys and values that do not
// parse fall back to defaults; the keys that fell back are returned.
func FromValues(values map[string]string) (Snapshot, []string) {
	s := Defaults()
	var invalid []string
	for _, key := range Keys {
		value, ok := values[key]
		if !ok {
			continue
		}
		next, err := s.Apply(key, value)
		if err != nil {
			invalid = append(invalid, key)
			continue
		}
		s = next
	}
	return s, invalid
}

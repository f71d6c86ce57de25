package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"machinehub/internal/config/tomlkeys"
	"machinehub/internal/logging"
)

const (
	EnvPrefix     = "MACHINEHUB_"
	EnvConfigPath = "MACHINEHUB_CONFIG"
	FileName      = "machinehub.toml"
	DefaultsPath  = "config/" + FileName
)

var sections = map[string]bool{
	"server":  true,
	"log":     true,
	"machine": true,
	"notify":  true,
	"otel":    true,
}

type Settings struct {
	Server  ServerSettings
	Log     LogSettings
	Machine MachineSettings
	Notify  NotifySettings
	OTel    OTelSettings
}

type ServerSettings struct {
	Port  int
	Token string
}

type LogSettings struct {
	Level logging.Level
}

type MachineSettings struct {
	DefaultUser       string
	DefaultPassword   string
	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	StatusInterval    time.Duration
	MaxStatusFailures int
	Autoconnect       []string
}

type NotifySettings struct {
	KafkaBrokers []string
	KafkaTopic   string
}

type OTelSettings struct {
	Enabled            bool
	Endpoint           string
	ServiceName        string
	ResourceAttributes string
}

// DefaultPath returns MACHINEHUB_CONFIG when set, otherwise the file under
// the user config directory.
func DefaultPath() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(dir, "machinehub", FileName)
}

// EnvOverrides maps MACHINEHUB_<SECTION>_<KEY> variables onto dotted keys.
// MACHINEHUB_MACHINE_DEFAULT_PASSWORD becomes machine.default-password.
// Variables outside the known sections are ignored.
func EnvOverrides(environ []string) map[string]any {
	overrides := make(map[string]any)
	for _, pair := range environ {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		section, key, ok := strings.Cut(strings.TrimPrefix(name, EnvPrefix), "_")
		section = strings.ToLower(section)
		if !ok || key == "" || !sections[section] {
			continue
		}
		overrides[section+"."+tomlkeys.NormalizeKey(key)] = value
	}
	return overrides
}

// LoadSettings layers the embedded defaults, the file at path when it
// exists, and overrides, in that order.
func LoadSettings(path string, defaultsPayload []byte, overrides map[string]any) (Settings, error) {
	defaults, err := tomlkeys.Decode(defaultsPayload)
	if err != nil {
		return Settings{}, fmt.Errorf("decode defaults: %w", err)
	}
	values := defaults

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Settings{}, err
			}
		} else {
			store, err := tomlkeys.Decode(payload)
			if err != nil {
				return Settings{}, fmt.Errorf("decode %s: %w", path, err)
			}
			values = values.Overlay(store)
		}
	}

	for key, value := range overrides {
		values = values.With(key, value)
	}

	settings := Settings{}
	settings.Server.Port = int(intSetting(values, defaults, "server.port"))
	settings.Server.Token = stringSetting(values, defaults, "server.token")

	rawLevel := stringSetting(values, defaults, "log.level")
	level, ok := logging.ParseLevel(rawLevel)
	if !ok {
		return Settings{}, fmt.Errorf("invalid log.level %q", rawLevel)
	}
	settings.Log.Level = level

	settings.Machine.DefaultUser = stringSetting(values, defaults, "machine.default-user")
	settings.Machine.DefaultPassword = stringSetting(values, defaults, "machine.default-password")
	settings.Machine.ConnectTimeout = msSetting(values, defaults, "machine.connect-timeout-ms")
	settings.Machine.RequestTimeout = msSetting(values, defaults, "machine.request-timeout-ms")
	settings.Machine.StatusInterval = msSetting(values, defaults, "machine.status-interval-ms")
	settings.Machine.MaxStatusFailures = int(intSetting(values, defaults, "machine.max-status-failures"))
	settings.Machine.Autoconnect = stringsSetting(values, "machine.autoconnect")

	settings.Notify.KafkaBrokers = stringsSetting(values, "notify.kafka-brokers")
	settings.Notify.KafkaTopic = stringSetting(values, defaults, "notify.kafka-topic")

	settings.OTel.Enabled = boolSetting(values, defaults, "otel.enabled")
	settings.OTel.Endpoint = stringSetting(values, defaults, "otel.endpoint")
	settings.OTel.ServiceName = stringSetting(values, defaults, "otel.service-name")
	settings.OTel.ResourceAttributes = stringSetting(values, defaults, "otel.resource-attributes")

	if settings.Server.Port <= 0 || settings.Server.Port > 65535 {
		return Settings{}, fmt.Errorf("invalid server.port %d", settings.Server.Port)
	}
	return settings, nil
}

// intSetting reads key from values, falling back to defaults when the value
// is missing, malformed or not positive.
func intSetting(values, defaults tomlkeys.Store, key string) int64 {
	if parsed, ok := asInt(values, key); ok && parsed > 0 {
		return parsed
	}
	parsed, _ := asInt(defaults, key)
	return parsed
}

func msSetting(values, defaults tomlkeys.Store, key string) time.Duration {
	return time.Duration(intSetting(values, defaults, key)) * time.Millisecond
}

func asInt(store tomlkeys.Store, key string) (int64, bool) {
	if parsed, ok := store.GetInt(key); ok {
		return parsed, true
	}
	if raw, ok := store.GetString(key); ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		return parsed, err == nil
	}
	return 0, false
}

func stringSetting(values, defaults tomlkeys.Store, key string) string {
	if parsed, ok := values.GetString(key); ok {
		return strings.TrimSpace(parsed)
	}
	parsed, _ := defaults.GetString(key)
	return strings.TrimSpace(parsed)
}

func boolSetting(values, defaults tomlkeys.Store, key string) bool {
	if parsed, ok := values.GetBool(key); ok {
		return parsed
	}
	if raw, ok := values.GetString(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			return parsed
		}
	}
	parsed, _ := defaults.GetBool(key)
	return parsed
}

// stringsSetting accepts a TOML array or a comma separated string.
func stringsSetting(values tomlkeys.Store, key string) []string {
	items, ok := values.GetStrings(key)
	if !ok {
		raw, _ := values.GetString(key)
		items = strings.Split(raw, ",")
	}
	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

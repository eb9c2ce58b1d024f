package config

import (
	"encoding/json"
	"os"
	"time"

	"bmvlink/pkg/engine"
	"bmvlink/pkg/errors"
	"bmvlink/pkg/logger"
)

// AppConfig is the application-level configuration loaded from
// app-config.json: serial device parameters, engine tuning knobs, optional
// raw-line recording, optional MQTT republishing, and logging. Unlike the
// register descriptor table (registers.yaml, parsed with yaml.v3 - see
// registers.go), this file is JSON: spec.md names "a JSON application
// config" explicitly, so stdlib encoding/json is correct here rather than
// reaching for the teacher's yaml.v3 out of habit.
type AppConfig struct {
	Serial      SerialConfig         `json:"serial"`
	Engine      EngineTuning         `json:"engine"`
	Recording   RecordingConfig      `json:"recording"`
	Publish     PublishConfig        `json:"publish"`
	HealthCheck HealthCheckConfig    `json:"healthCheck"`
	Logging     logger.LoggingConfig `json:"logging"`
}

// SerialConfig names the serial device and baud rate.
type SerialConfig struct {
	Device string `json:"device"`
	Baud   int    `json:"baud"`
}

// EngineTuning mirrors engine.Config's fields in their JSON-facing shape
// (a millisecond integer for the timeout rather than a time.Duration).
type EngineTuning struct {
	DefaultPriority      int  `json:"defaultPriority"`
	DefaultMaxRetries    int  `json:"defaultMaxRetries"`
	Compression          bool `json:"compression"`
	CmdResponseTimeoutMS int  `json:"cmdResponseTimeoutMS"`
	RestartEveryNTimeout int  `json:"restartEveryNTimeout"`
}

// RecordingConfig enables raw-line recording to a file (pkg/recorder).
type RecordingConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PublishConfig enables republishing committed register changes to MQTT
// (pkg/publish). Port 0 / Broker "" with Enabled false is the default.
type PublishConfig struct {
	Enabled   bool   `json:"enabled"`
	Broker    string `json:"broker"`
	Port      int    `json:"port"`
	ClientID  string `json:"clientId"`
	TopicRoot string `json:"topicRoot"`
}

// HealthCheckConfig enables the observational HTTP endpoint (pkg/healthcheck).
// Port 0 disables it, the same convention the teacher's metrics package
// uses for its own listener.
type HealthCheckConfig struct {
	Port int `json:"port"`
}

// LoadAppConfig reads and parses app-config.json from path.
func LoadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("read app config", err, path)
	}
	var cfg AppConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.NewConfigError("parse app config", err, path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigError("validate app config", err, path)
	}
	return &cfg, nil
}

// Validate checks the required fields spec.md's application config names.
func (c *AppConfig) Validate() error {
	if c.Serial.Device == "" {
		return errors.NewValidationError("serial.device", "non-empty device path", c.Serial.Device)
	}
	if c.Serial.Baud <= 0 {
		return errors.NewValidationError("serial.baud", "positive baud rate", c.Serial.Baud)
	}
	if c.Engine.CmdResponseTimeoutMS <= 0 {
		return errors.NewValidationError("engine.cmdResponseTimeoutMS", "positive duration", c.Engine.CmdResponseTimeoutMS)
	}
	if c.Engine.DefaultMaxRetries < 0 {
		return errors.NewValidationError("engine.defaultMaxRetries", "non-negative", c.Engine.DefaultMaxRetries)
	}
	if c.Recording.Enabled && c.Recording.Path == "" {
		return errors.NewValidationError("recording.path", "non-empty when recording.enabled is true", c.Recording.Path)
	}
	if c.Publish.Enabled && c.Publish.Broker == "" {
		return errors.NewValidationError("publish.broker", "non-empty when publish.enabled is true", c.Publish.Broker)
	}
	return nil
}

// ToEngineConfig converts the JSON-facing tuning knobs into engine.Config.
func (c *AppConfig) ToEngineConfig() engine.Config {
	return engine.Config{
		CmdResponseTimeout:   time.Duration(c.Engine.CmdResponseTimeoutMS) * time.Millisecond,
		Compression:          c.Engine.Compression,
		DefaultPriority:      c.Engine.DefaultPriority,
		DefaultMaxRetries:    c.Engine.DefaultMaxRetries,
		RestartEveryNTimeout: c.Engine.RestartEveryNTimeout,
	}
}

package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadAppConfig(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "app-config-*.json")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	content := `{
		"serial": {"device": "/dev/ttyUSB0", "baud": 19200},
		"engine": {
			"defaultPriority": 0,
			"defaultMaxRetries": 2,
			"compression": true,
			"cmdResponseTimeoutMS": 500,
			"restartEveryNTimeout": 5
		},
		"recording": {"enabled": true, "path": "/var/log/bmvlink/raw.log"},
		"publish": {"enabled": false},
		"healthCheck": {"port": 8090},
		"logging": {"level": "info"}
	}`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	tmpFile.Close()

	cfg, err := LoadAppConfig(tmpFile.Name())
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}

	if cfg.Serial.Device != "/dev/ttyUSB0" || cfg.Serial.Baud != 19200 {
		t.Errorf("unexpected serial config: %+v", cfg.Serial)
	}
	if !cfg.Recording.Enabled || cfg.Recording.Path == "" {
		t.Errorf("unexpected recording config: %+v", cfg.Recording)
	}

	eng := cfg.ToEngineConfig()
	if eng.CmdResponseTimeout != 500*time.Millisecond {
		t.Errorf("CmdResponseTimeout = %v, want 500ms", eng.CmdResponseTimeout)
	}
	if !eng.Compression || eng.DefaultMaxRetries != 2 || eng.RestartEveryNTimeout != 5 {
		t.Errorf("unexpected engine config: %+v", eng)
	}
}

func TestLoadAppConfigMissingFile(t *testing.T) {
	if _, err := LoadAppConfig("/nonexistent/app-config.json"); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestAppConfigValidateRejectsMissingDevice(t *testing.T) {
	cfg := &AppConfig{
		Engine: EngineTuning{CmdResponseTimeoutMS: 500},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected a validation error for a missing serial device")
	}
}

func TestAppConfigValidateRejectsRecordingWithoutPath(t *testing.T) {
	cfg := &AppConfig{
		Serial:    SerialConfig{Device: "/dev/ttyUSB0", Baud: 19200},
		Engine:    EngineTuning{CmdResponseTimeoutMS: 500},
		Recording: RecordingConfig{Enabled: true},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected a validation error for recording enabled without a path")
	}
}

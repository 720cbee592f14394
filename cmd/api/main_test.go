package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/hamed0406/sensorwatch/internal/config"
)

func setEnv(t *testing.T, threshold string) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("API_ADDR", "")
	t.Setenv("ENDPOINT_INFLUXDB", "http://influx.local:8086/query")
	t.Setenv("THRESHOLD_ATTEMPTS", threshold)
}

func TestLoadConfig_RejectsZeroThreshold(t *testing.T) {
	setEnv(t, "0")
	_, err := loadConfig()
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
	if !strings.Contains(err.Error(), "THRESHOLD_ATTEMPTS") {
		t.Fatalf("error should name the threshold: %v", err)
	}
}

func TestLoadConfig_DefaultsListenAddr(t *testing.T) {
	setEnv(t, "3")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != "127.0.0.1:8080" || cfg.ThresholdAttempts != 3 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

package observability

import (
	"strings"

	"github.com/smallbiznis/simstore/internal/config"
)

// Config is the slice of application configuration the logger, tracer and
// meter need.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "simstore"
	}
	level := cfg.Telemetry.LogLevel
	if level == "" {
		level = "info"
	}
	format := cfg.Telemetry.LogFormat
	if format == "" {
		format = "json"
	}
	protocol := cfg.Telemetry.Protocol
	if protocol == "" {
		protocol = "grpc"
	}
	ratio := cfg.Telemetry.SamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             level,
		LogFormat:            format,
		OtelEnabled:          cfg.Telemetry.TracingEnabled,
		OtelExporterEndpoint: cfg.Telemetry.Endpoint,
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug enables verbose logging and request dumps outside production-like
// environments.
func (c Config) Debug() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

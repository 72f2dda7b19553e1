package events

import (
	"github.com/nextlayerdevops/runctl/internal/config"
)

// Config controls lifecycle-event publishing.
type Config struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// LoadConfig loads event publisher configuration from the environment.
// Publishing is disabled (NoopPublisher) unless RUNCTL_KAFKA_BROKERS is set.
func LoadConfig() *Config {
	brokersStr := config.GetEnvStr("RUNCTL_KAFKA_BROKERS", "")

	return &Config{
		Brokers: config.ParseCommaSeparatedList(brokersStr),
		Topic:   config.GetEnvStr("RUNCTL_KAFKA_TOPIC", DefaultTopic),
		Enabled: brokersStr != "",
	}
}

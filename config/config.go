package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Options   Options
	Device    DeviceConfig
	Discovery DiscoveryConfig
	Sentry    SentryConfig
}

type Options struct {
	Port   string
	DBPath string
}

type DeviceConfig struct {
	// TimeoutSeconds bounds a single status query or command against a player.
	TimeoutSeconds int
	// PollIntervalSeconds is the fixed status polling cadence. Staleness is
	// judged against twice this value.
	PollIntervalSeconds int
}

type DiscoveryConfig struct {
	ServiceType    string
	Domain         string
	TimeoutSeconds int
}

type SentryConfig struct {
	DSN string
}

func (s *SentryConfig) IsEnabled() bool {
	return s.DSN != ""
}

func (d *DeviceConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

func (d *DeviceConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

func (d *DiscoveryConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

func New() *Config {
	return &Config{
		Options: Options{
			Port:   os.Getenv("PORT"),
			DBPath: os.Getenv("DB_PATH"),
		},
		Device: DeviceConfig{
			TimeoutSeconds:      getDeviceTimeout(),
			PollIntervalSeconds: getPollInterval(),
		},
		Discovery: DiscoveryConfig{
			ServiceType:    getServiceType(),
			Domain:         getDiscoveryDomain(),
			TimeoutSeconds: getDiscoveryTimeout(),
		},
		Sentry: SentryConfig{
			DSN: os.Getenv("SENTRY_DSN"),
		},
	}
}

func getPollInterval() int {
	intervalStr := os.Getenv("POLL_INTERVAL_SECONDS")
	if intervalStr == "" {
		return 5
	}
	interval, err := strconv.Atoi(intervalStr)
	if err != nil || interval <= 0 {
		return 5
	}
	if interval > 60 {
		return 60 // Polling slower than once a minute defeats liveness detection
	}
	return interval
}

func getDeviceTimeout() int {
	timeoutStr := os.Getenv("DEVICE_TIMEOUT_SECONDS")
	if timeoutStr == "" {
		return 4
	}
	timeout, err := strconv.Atoi(timeoutStr)
	if err != nil || timeout <= 0 {
		return 4
	}
	if timeout > 30 {
		return 30
	}
	return timeout
}

func getDiscoveryTimeout() int {
	timeoutStr := os.Getenv("DISCOVERY_TIMEOUT_SECONDS")
	if timeoutStr == "" {
		return 10
	}
	timeout, err := strconv.Atoi(timeoutStr)
	if err != nil || timeout <= 0 {
		return 10
	}
	if timeout > 120 {
		return 120
	}
	return timeout
}

func getServiceType() string {
	serviceType := os.Getenv("DISCOVERY_SERVICE_TYPE")
	if serviceType == "" {
		return "_musc._tcp" // BluOS players advertise this service
	}
	return serviceType
}

func getDiscoveryDomain() string {
	domain := os.Getenv("DISCOVERY_DOMAIN")
	if domain == "" {
		return "local."
	}
	return domain
}

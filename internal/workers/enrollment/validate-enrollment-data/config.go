// internal/workers/enrollment/validate-enrollment-data/config.go
package validateenrollmentdata

import (
	"time"

	"sgpa-enrollment/internal/common/config"
)

type Config struct {
	Enabled bool
	Timeout time.Duration
}

func createConfigFromAppConfig(appConfig *config.Config) *Config {
	cfg := &Config{
		Enabled: true,
		Timeout: 10 * time.Second,
	}
	if appConfig == nil {
		return cfg
	}

	wcfg := config.GetWorkerConfig(appConfig, TaskType)
	cfg.Enabled = wcfg.Enabled
	if wcfg.Timeout > 0 {
		cfg.Timeout = config.GetDuration(wcfg.Timeout)
	}
	return cfg
}

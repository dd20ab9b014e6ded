// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment
// variables, with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"FuseLane/internal/model"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies
// defaults, and allows overrides from environment variables prefixed
// with FUSELANE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable support with FUSELANE_ prefix
	v.SetEnvPrefix("FUSELANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names for required fields
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "FUSELANE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "FUSELANE_DATA_REDIS_ADDR")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Resilience: &Resilience{
			Services:             loadServicePolicies(v),
			Routes:               loadRoutes(v),
			Tiers:                loadTiers(v),
			Features:             loadFeatures(v),
			DeadLetterAlertDepth: v.GetInt64("resilience.dead_letter.alert_depth"),
			Buffer: &BufferPolicy{
				Window:        durationpb.New(v.GetDuration("resilience.buffer.window")),
				MaxMessages:   v.GetInt32("resilience.buffer.max_messages"),
				FlushTriggers: v.GetStringSlice("resilience.buffer.flush_triggers"),
				JobType:       v.GetString("resilience.buffer.job_type"),
			},
			Metrics: &MetricsPolicy{
				Window:            durationpb.New(v.GetDuration("resilience.metrics.window")),
				FlushInterval:     durationpb.New(v.GetDuration("resilience.metrics.flush_interval")),
				SampleLimit:       v.GetInt32("resilience.metrics.sample_limit"),
				TargetUtilization: v.GetFloat64("resilience.metrics.target_utilization"),
			},
		},
		Integrations: &Integrations{
			InvoicingURL:     v.GetString("integrations.invoicing_url"),
			PaymentsURL:      v.GetString("integrations.payments_url"),
			MessagingURL:     v.GetString("integrations.messaging_url"),
			TranscriptionURL: v.GetString("integrations.transcription_url"),
			Timeout:          durationpb.New(v.GetDuration("integrations.timeout")),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// loadServicePolicies reads the enumerated per-service policies. Service
// names must not contain dots (they are viper path segments).
func loadServicePolicies(v *viper.Viper) map[string]*ServicePolicy {
	policies := make(map[string]*ServicePolicy)
	for name := range v.GetStringMap("resilience.services") {
		p := "resilience.services." + name
		policies[name] = &ServicePolicy{
			FailureThreshold:   v.GetInt32(p + ".failure_threshold"),
			SuccessThreshold:   v.GetInt32(p + ".success_threshold"),
			ResetTimeout:       durationpb.New(v.GetDuration(p + ".reset_timeout")),
			RateCapacity:       v.GetFloat64(p + ".rate_capacity"),
			RefillRate:         v.GetFloat64(p + ".refill_rate"),
			TenantRateCapacity: v.GetFloat64(p + ".tenant_rate_capacity"),
			TenantRefillRate:   v.GetFloat64(p + ".tenant_refill_rate"),
			MaxAttempts:        v.GetInt32(p + ".max_attempts"),
			BaseDelay:          durationpb.New(v.GetDuration(p + ".base_delay")),
			MaxDelay:           durationpb.New(v.GetDuration(p + ".max_delay")),
			Critical:           v.GetBool(p + ".critical"),
		}
	}
	return policies
}

// loadRoutes reads the static job type routing table.
func loadRoutes(v *viper.Viper) map[string]*Route {
	routes := make(map[string]*Route)
	for name := range v.GetStringMap("resilience.routes") {
		p := "resilience.routes." + name
		routes[name] = &Route{
			Tier:        v.GetString(p + ".tier"),
			Service:     v.GetString(p + ".service"),
			MaxAttempts: v.GetInt32(p + ".max_attempts"),
		}
	}
	return routes
}

// loadTiers reads per-tier worker pool sizing.
func loadTiers(v *viper.Viper) map[string]*TierPolicy {
	tiers := make(map[string]*TierPolicy)
	for name := range v.GetStringMap("resilience.tiers") {
		p := "resilience.tiers." + name
		tiers[name] = &TierPolicy{
			Workers:    v.GetInt32(p + ".workers"),
			JobTimeout: durationpb.New(v.GetDuration(p + ".job_timeout")),
		}
	}
	return tiers
}

// loadFeatures reads the static feature -> services health mapping.
func loadFeatures(v *viper.Viper) map[string]*FeatureMap {
	features := make(map[string]*FeatureMap)
	for name := range v.GetStringMap("resilience.features") {
		p := "resilience.features." + name
		features[name] = &FeatureMap{
			Services: v.GetStringSlice(p + ".services"),
		}
	}
	return features
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 1*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Resilience defaults
	v.SetDefault("resilience.dead_letter.alert_depth", 100)

	v.SetDefault("resilience.tiers.realtime.workers", 8)
	v.SetDefault("resilience.tiers.realtime.job_timeout", 15*time.Second)
	v.SetDefault("resilience.tiers.background.workers", 4)
	v.SetDefault("resilience.tiers.background.job_timeout", 60*time.Second)
	v.SetDefault("resilience.tiers.batch.workers", 2)
	v.SetDefault("resilience.tiers.batch.job_timeout", 5*time.Minute)

	v.SetDefault("resilience.buffer.window", 8*time.Second)
	v.SetDefault("resilience.buffer.max_messages", 10)
	v.SetDefault("resilience.buffer.flush_triggers", []string{"urgent"})
	v.SetDefault("resilience.buffer.job_type", "process_conversation")

	v.SetDefault("resilience.metrics.window", 5*time.Minute)
	v.SetDefault("resilience.metrics.flush_interval", 1*time.Minute)
	v.SetDefault("resilience.metrics.sample_limit", 2048)
	// Target utilization is a tunable policy default, not a hard invariant.
	v.SetDefault("resilience.metrics.target_utilization", 0.7)

	// Integration defaults
	v.SetDefault("integrations.timeout", 30*time.Second)
}

// Validate checks that all required configuration fields are present and
// consistent: every route references a known tier and service, every
// feature references known services, and every service policy carries a
// complete breaker/limiter/retry tuple.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		problems = append(problems, "data.database.source (MYSQL_DSN) is required")
	}

	res := bc.Resilience
	if res == nil {
		return fmt.Errorf("invalid configuration: resilience section is required")
	}

	for name, p := range res.Services {
		if p.FailureThreshold <= 0 {
			problems = append(problems, fmt.Sprintf("resilience.services.%s.failure_threshold must be positive", name))
		}
		if p.SuccessThreshold <= 0 {
			problems = append(problems, fmt.Sprintf("resilience.services.%s.success_threshold must be positive", name))
		}
		if p.ResetTimeout.AsDuration() <= 0 {
			problems = append(problems, fmt.Sprintf("resilience.services.%s.reset_timeout must be positive", name))
		}
		if p.RateCapacity <= 0 || p.RefillRate <= 0 {
			problems = append(problems, fmt.Sprintf("resilience.services.%s rate_capacity and refill_rate must be positive", name))
		}
		if p.MaxAttempts <= 0 {
			problems = append(problems, fmt.Sprintf("resilience.services.%s.max_attempts must be positive", name))
		}
		if p.BaseDelay.AsDuration() <= 0 || p.MaxDelay.AsDuration() < p.BaseDelay.AsDuration() {
			problems = append(problems, fmt.Sprintf("resilience.services.%s base_delay/max_delay are inconsistent", name))
		}
	}

	for jobType, r := range res.Routes {
		if _, ok := model.ParseTier(r.Tier); !ok {
			problems = append(problems, fmt.Sprintf("resilience.routes.%s.tier %q is not a valid tier", jobType, r.Tier))
		}
		if _, ok := res.Services[r.Service]; !ok {
			problems = append(problems, fmt.Sprintf("resilience.routes.%s.service %q has no service policy", jobType, r.Service))
		}
	}

	for tier, tp := range res.Tiers {
		if _, ok := model.ParseTier(tier); !ok {
			problems = append(problems, fmt.Sprintf("resilience.tiers.%s is not a valid tier", tier))
		}
		if tp.Workers <= 0 {
			problems = append(problems, fmt.Sprintf("resilience.tiers.%s.workers must be positive", tier))
		}
		if tp.JobTimeout.AsDuration() <= 0 {
			problems = append(problems, fmt.Sprintf("resilience.tiers.%s.job_timeout must be positive", tier))
		}
	}

	for feature, fm := range res.Features {
		if len(fm.Services) == 0 {
			problems = append(problems, fmt.Sprintf("resilience.features.%s must map at least one service", feature))
		}
		for _, svc := range fm.Services {
			if _, ok := res.Services[svc]; !ok {
				problems = append(problems, fmt.Sprintf("resilience.features.%s references unknown service %q", feature, svc))
			}
		}
	}

	if res.Buffer != nil {
		if res.Buffer.Window.AsDuration() <= 0 {
			problems = append(problems, "resilience.buffer.window must be positive")
		}
		if res.Buffer.MaxMessages <= 0 {
			problems = append(problems, "resilience.buffer.max_messages must be positive")
		}
		if res.Buffer.JobType != "" {
			if _, ok := res.Routes[res.Buffer.JobType]; !ok && len(res.Routes) > 0 {
				problems = append(problems, fmt.Sprintf("resilience.buffer.job_type %q has no route", res.Buffer.JobType))
			}
		}
	}

	if res.Metrics != nil {
		if res.Metrics.TargetUtilization <= 0 || res.Metrics.TargetUtilization >= 1 {
			problems = append(problems, "resilience.metrics.target_utilization must be in (0, 1)")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}

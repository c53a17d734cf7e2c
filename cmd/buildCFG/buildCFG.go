package buildCFG

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
)

type ServerConfig struct {
	Port string
}

type RabbitConfig struct {
	Url      string
	Exchange string
	Queue    string
}

// LifecycleConfig carries the policy knobs of the participation engine.
type LifecycleConfig struct {
	// EarlyCheckInGrace widens the accepted check-in window to this much
	// before the event start. Zero means check-in opens exactly at start.
	EarlyCheckInGrace time.Duration
	// ReconcileInterval schedules the background repair pass; zero disables
	// the scheduler, leaving only the on-demand endpoint.
	ReconcileInterval time.Duration
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	port := cfg.GetString("server.port")
	if port == "" {
		port = "8080"
		log.Warn().Msg("server.port not set, defaulting to 8080")
	}
	return ServerConfig{Port: port}
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	masterDSN := cfg.GetString("database.master_dsn")
	if masterDSN == "" {
		return "", nil, nil, fmt.Errorf("database.master_dsn is required")
	}

	var slaveDSNs []string
	if slave := cfg.GetString("database.slave_dsn"); slave != "" {
		slaveDSNs = append(slaveDSNs, slave)
	}

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.GetInt("database.max_open_conns"),
		MaxIdleConns:    cfg.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: time.Hour,
	}
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 25
	}
	if opts.MaxIdleConns == 0 {
		opts.MaxIdleConns = 5
	}

	log.Info().Int("max_open_conns", opts.MaxOpenConns).Msg("DB config built")
	return masterDSN, slaveDSNs, opts, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (RabbitConfig, error) {
	rc := RabbitConfig{
		Url:      cfg.GetString("rabbit.url"),
		Exchange: cfg.GetString("rabbit.exchange"),
		Queue:    cfg.GetString("rabbit.queue"),
	}
	if rc.Url == "" {
		return rc, fmt.Errorf("rabbit.url is required")
	}
	if rc.Exchange == "" {
		rc.Exchange = "campusevents.notifications"
	}
	if rc.Queue == "" {
		rc.Queue = "campusevents.registration_emails"
	}
	log.Info().Str("exchange", rc.Exchange).Str("queue", rc.Queue).Msg("Rabbit config built")
	return rc, nil
}

func BuildLifecycleConfig(cfg *config.Config, log *zerolog.Logger) LifecycleConfig {
	lc := LifecycleConfig{}

	if raw := cfg.GetString("lifecycle.early_check_in_grace"); raw != "" {
		grace, err := time.ParseDuration(raw)
		if err != nil {
			log.Warn().Str("value", raw).Msg("invalid lifecycle.early_check_in_grace, using 0")
		} else {
			lc.EarlyCheckInGrace = grace
		}
	}

	if raw := cfg.GetString("reconcile.interval"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			log.Warn().Str("value", raw).Msg("invalid reconcile.interval, scheduler disabled")
		} else {
			lc.ReconcileInterval = interval
		}
	}

	return lc
}

package config

import (
	"time"

	"github.com/caarlos0/env/v9"
)

type Config struct {
	Port                   string `env:"PORT" envDefault:"8080"`
	DBUser                 string `env:"DB_USER,required"`
	DBPassword             string `env:"DB_PASSWORD,required"`
	DBHost                 string `env:"DB_HOST,required"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName                 string `env:"DB_NAME,required"`
	DBPort                 string `env:"DB_PORT" envDefault:"3306"`
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`

	// Empty disables token verification; identity then comes from X-User-Id headers.
	FirebaseProjectID string `env:"FIREBASE_PROJECT_ID"`

	// Empty keeps locking in-process and disables stats events.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	PropagationWorkers     int           `env:"PROPAGATION_WORKERS" envDefault:"4"`
	PropagationQueueSize   int           `env:"PROPAGATION_QUEUE_SIZE" envDefault:"1024"`
	PropagationMaxAttempts int           `env:"PROPAGATION_MAX_ATTEMPTS" envDefault:"3"`
	PropagationRetryDelay  time.Duration `env:"PROPAGATION_RETRY_DELAY" envDefault:"2s"`

	ReferralLinkBase   string `env:"REFERRAL_LINK_BASE" envDefault:"https://domain.com/register"`
	BootstrapRootCode  string `env:"BOOTSTRAP_ROOT_CODE" envDefault:"SUPERADMIN"`
	BootstrapRootEmail string `env:"BOOTSTRAP_ROOT_EMAIL" envDefault:"superadmin@example.com"`

	ExportBucket string `env:"EXPORT_BUCKET"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

package config

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/circuit_breaker"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/kafka"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/logger"
	md "github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/middleware"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/postgres"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/redis"
)

type HTTPServer struct {
	Host         string        `yaml:"host" envconfig:"RESERVATION_HTTP_HOST"`
	Port         string        `yaml:"port" envconfig:"RESERVATION_HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"readTimeout" envconfig:"HTTP_READ" default:"10s"`
	WriteTimeout time.Duration
}

type Config struct {
	Server         HTTPServer   `yaml:"server"`
	Database       postgres.DB  `yaml:"db"`
	Log            logger.Log   `yaml:"log"`
	Kafka          kafka.Config `yaml:"kafka"`
	Redis          redis.Config `yaml:"redis"`
	Idempotency    md.IdempotencyConfig
	CircuitBreaker circuit_breaker.Config
	// MetricsNamespace prefixes every exported prometheus series.
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"compass"`
}

var (
	once sync.Once
	cfg  Config
)

// NewConfig reads config from environment.
func NewConfig(ops ...Option) Config {
	once.Do(func() {
		var config Config
		for _, op := range ops {
			op(&config)
		}
		err := envconfig.Process("", &config)
		if err != nil {
			log.Fatal("NewConfig ", err)
		}
		cfg = config
		printConfig(cfg)
	})

	return cfg
}

func printConfig(cfg Config) {
	cfg.Database.Password = "***"
	cfg.Redis.Password = "***"
	jscfg, _ := json.MarshalIndent(cfg, "", "	") //nolint:errcheck
	fmt.Println(string(jscfg))
}

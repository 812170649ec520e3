package kafka

import (
	"github.com/IBM/sarama"
)

const ReservationTopic = "reservation-events"

type Config struct {
	Addrs []string `yaml:"addrs" envconfig:"KAFKA_ADDRS"`
	Topic string   `yaml:"topic" envconfig:"KAFKA_TOPIC" default:"reservation-events"`
}

func (c Config) Enabled() bool {
	return len(c.Addrs) > 0
}

func NewProducer(cfg Config) (sarama.SyncProducer, error) {
	defaultCfg := sarama.NewConfig()

	defaultCfg.Producer.RequiredAcks = sarama.WaitForAll
	defaultCfg.Producer.Return.Successes = true
	defaultCfg.Producer.Idempotent = true
	defaultCfg.Net.MaxOpenRequests = 1
	defaultCfg.Version = sarama.V2_1_0_0

	return sarama.NewSyncProducer(cfg.Addrs, defaultCfg)
}

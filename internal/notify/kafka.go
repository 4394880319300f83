// Package notify publishes artifact-update events so downstream consumers
// can refresh without polling the facade.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// Event announces one successful latest-alias write.
type Event struct {
	BaseKey        string `json:"base_key"`
	Index          int    `json:"index"`
	RunName        string `json:"run_name"`
	ForecastOffset int    `json:"forecast_offset"`
	DataTime       string `json:"data_time"`
}

// Notifier publishes Events to Kafka. A nil *Notifier is valid and silently
// drops events, so callers never branch on whether notification is enabled.
type Notifier struct {
	producer sarama.SyncProducer
	topic    string
	log      *slog.Logger
}

type Config struct {
	Enabled bool
	Brokers string // comma separated
	Topic   string
}

func New(cfg Config, log *slog.Logger) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if log == nil {
		log = slog.Default()
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_5_0_0
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Timeout = 5 * time.Second

	p, err := sarama.NewSyncProducer(splitCSV(cfg.Brokers), sc)
	if err != nil {
		return nil, fmt.Errorf("notify producer: %w", err)
	}
	return &Notifier{producer: p, topic: cfg.Topic, log: log}, nil
}

// Publish is best effort: a broker failure is logged and swallowed, the
// pipeline never fails because a notification did not go out.
func (n *Notifier) Publish(ev Event) {
	if n == nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		n.log.Warn("notify marshal failed", "err", err)
		return
	}
	_, _, err = n.producer.SendMessage(&sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(ev.BaseKey),
		Value: sarama.ByteEncoder(raw),
	})
	if err != nil {
		n.log.Warn("notify publish failed", "topic", n.topic, "err", err)
	}
}

func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	return n.producer.Close()
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

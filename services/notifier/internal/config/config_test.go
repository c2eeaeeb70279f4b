package config

import "testing"

func TestLoadRequiresBrokersAndSMTP(t *testing.T) {
	t.Setenv("SEV_CONFIG", t.TempDir()+"/missing.yaml")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing brokers to fail")
	}

	t.Setenv("SEV_KAFKA_BROKERS", "kafka:9092")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing smtp host to fail")
	}

	t.Setenv("SEV_SMTP_HOST", "mailhog")
	t.Setenv("SEV_SMTP_PORT", "1025")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.ServiceName != "notifier" || cfg.SMTP.Port != 1025 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Kafka.ConsumerGroup != "notifier" || cfg.Kafka.Topics.DeadLetter != "notifications.email.dlq" {
		t.Fatalf("unexpected kafka config %+v", cfg.Kafka)
	}
}

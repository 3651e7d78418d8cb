package config

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Server captures process-level configuration.
type Server struct {
	// Domain is the XMPP domain this node serves.
	Domain string
	// NodeID identifies this node on the cluster bus. Generated when unset.
	NodeID string
	// Addr is the operational HTTP listen address (healthz, metrics).
	Addr string
	// RedisURL enables clustering when set; empty means single-node.
	RedisURL string
	// PostgresURL selects the Postgres roster store; empty means in-memory.
	PostgresURL string
	// KafkaBrokers enables the Kafka subscription-event sink when non-empty.
	KafkaBrokers []string
	// KafkaTopic is the subscription-event topic.
	KafkaTopic string
	// DeliverToAll delivers bare-address messages to every resource tied at
	// the highest priority instead of tie-breaking to one.
	DeliverToAll bool
	// ClusterTimeout bounds cluster cache and bus round-trips.
	ClusterTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays
// lean.
func FromEnv() Server {
	domain := os.Getenv("COURIER_DOMAIN")
	if domain == "" {
		domain = "localhost"
	}
	node := os.Getenv("COURIER_NODE_ID")
	if node == "" {
		node = uuid.NewString()
	}
	addr := os.Getenv("COURIER_ADDR")
	if addr == "" {
		addr = ":8088"
	}
	topic := os.Getenv("COURIER_KAFKA_TOPIC")
	if topic == "" {
		topic = "courier.subscription-events"
	}
	var brokers []string
	if raw := os.Getenv("COURIER_KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}
	timeout := 5 * time.Second
	if raw := os.Getenv("COURIER_CLUSTER_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			timeout = d
		}
	}
	return Server{
		Domain:         domain,
		NodeID:         node,
		Addr:           addr,
		RedisURL:       os.Getenv("COURIER_REDIS_URL"),
		PostgresURL:    os.Getenv("COURIER_POSTGRES_URL"),
		KafkaBrokers:   brokers,
		KafkaTopic:     topic,
		DeliverToAll:   os.Getenv("COURIER_DELIVER_TO_ALL") == "true",
		ClusterTimeout: timeout,
	}
}

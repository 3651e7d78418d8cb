package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"mellium.im/xmpp/jid"

	"courier/internal/stanza"
	"courier/pkg/platform/circuit"
)

const (
	nodeChannelPrefix = "courier:node:"
	broadcastChannel  = "courier:broadcast"
)

type wireEnvelope struct {
	To     string          `json:"to,omitempty"`
	Stanza json.RawMessage `json:"stanza"`
}

// PacketHandler receives stanzas that another node forwarded to this one.
type PacketHandler func(ctx context.Context, to jid.JID, st stanza.Stanza)

// RedisRouter forwards stanzas between cluster nodes over Redis pub/sub. A
// delivery failure is an answer ("not delivered"), never an error escalated
// past the routing table; the circuit breaker keeps a dead backend from
// stalling every stanza in the meantime.
type RedisRouter struct {
	client  *redis.Client
	node    string
	breaker *circuit.Breaker
	timeout time.Duration
	logger  *slog.Logger
}

// RedisRouterOption configures a RedisRouter.
type RedisRouterOption func(*RedisRouter)

// WithRouterLogger sets the logger.
func WithRouterLogger(logger *slog.Logger) RedisRouterOption {
	return func(r *RedisRouter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRouterTimeout bounds each publish.
func WithRouterTimeout(d time.Duration) RedisRouterOption {
	return func(r *RedisRouter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRedisRouter returns a remote packet router identified as node on the
// cluster bus.
func NewRedisRouter(client *redis.Client, node string, opts ...RedisRouterOption) *RedisRouter {
	r := &RedisRouter{
		client:  client,
		node:    node,
		breaker: circuit.New("cluster-bus", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RoutePacket forwards st to the node that owns the session behind to. It
// reports whether the packet was handed to the bus; false means the caller
// treats the recipient as unreachable. While the breaker is open the call
// fails fast instead of paying the publish timeout; one probe per retry
// interval checks whether the backend came back.
func (r *RedisRouter) RoutePacket(ctx context.Context, nodeID string, to jid.JID, st stanza.Stanza) bool {
	if !r.breaker.Allow() {
		return false
	}
	if ok := r.publish(ctx, nodeChannelPrefix+nodeID, to, st); ok {
		r.breaker.RecordSuccess()
		return true
	}
	if _, change := r.breaker.RecordFailure(); change.Opened {
		r.logger.Warn("cluster bus circuit opened", "node", nodeID)
	}
	return false
}

// BroadcastPacket publishes st to every node in the cluster.
func (r *RedisRouter) BroadcastPacket(ctx context.Context, st stanza.Stanza) {
	if !r.breaker.Allow() {
		return
	}
	if ok := r.publish(ctx, broadcastChannel, jid.JID{}, st); ok {
		r.breaker.RecordSuccess()
		return
	}
	if _, change := r.breaker.RecordFailure(); change.Opened {
		r.logger.Warn("cluster bus circuit opened", "channel", broadcastChannel)
	}
}

func (r *RedisRouter) publish(ctx context.Context, channel string, to jid.JID, st stanza.Stanza) bool {
	raw, err := stanza.Encode(st)
	if err != nil {
		r.logger.Error("encode stanza for cluster bus", "err", err)
		return false
	}
	env, err := json.Marshal(wireEnvelope{To: to.String(), Stanza: raw})
	if err != nil {
		r.logger.Error("encode cluster envelope", "err", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, channel, env).Err(); err != nil {
		r.logger.Warn("cluster publish failed", "channel", channel, "err", err)
		return false
	}
	return true
}

// Run subscribes to this node's channel and the broadcast channel, decoding
// inbound envelopes and handing them to handle. It blocks until ctx is
// cancelled.
func (r *RedisRouter) Run(ctx context.Context, handle PacketHandler) error {
	sub := r.client.Subscribe(ctx, nodeChannelPrefix+r.node, broadcastChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("cluster bus subscription closed")
			}
			r.dispatch(ctx, msg.Payload, handle)
		}
	}
}

func (r *RedisRouter) dispatch(ctx context.Context, payload string, handle PacketHandler) {
	var env wireEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("drop malformed cluster envelope", "err", err)
		return
	}
	st, err := stanza.Decode(env.Stanza)
	if err != nil {
		r.logger.Warn("drop undecodable cluster stanza", "err", err)
		return
	}
	to := st.To()
	if env.To != "" {
		to, err = jid.Parse(env.To)
		if err != nil {
			r.logger.Warn("drop cluster stanza with bad recipient", "to", env.To, "err", err)
			return
		}
	}
	handle(ctx, to, st)
}

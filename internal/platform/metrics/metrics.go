// Package metrics exposes the Prometheus families for routing and
// subscription outcomes. Collectors are package-level so they register once
// at import, regardless of how many components record against them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stanzasRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_stanzas_routed_total",
		Help: "Stanzas delivered to a resolved route, by stanza kind.",
	}, []string{"kind"})

	routingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_routing_failures_total",
		Help: "Stanzas that could not be delivered, by stanza kind.",
	}, []string{"kind"})

	remoteForwards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_remote_forwards_total",
		Help: "Stanzas forwarded to another cluster node.",
	})

	localRoutes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "courier_local_routes",
		Help: "Client routes currently registered on this node.",
	})

	subscriptionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_subscription_transitions_total",
		Help: "Roster subscription state transitions applied, by stanza type.",
	}, []string{"type"})
)

func StanzaRouted(kind string)          { stanzasRouted.WithLabelValues(kind).Inc() }
func RoutingFailed(kind string)         { routingFailures.WithLabelValues(kind).Inc() }
func RemoteForward()                    { remoteForwards.Inc() }
func SetLocalRoutes(n int)              { localRoutes.Set(float64(n)) }
func SubscriptionTransition(typ string) { subscriptionTransitions.WithLabelValues(typ).Inc() }

package router

import (
	"context"
	"log/slog"

	"courier/internal/stanza"
)

// LocalDeliverer is the terminal best-effort send: it hands the stanza to a
// local session when one is bound under the exact target address and
// otherwise drops it. Deployments with offline storage or federation replace
// it with a deliverer that escalates instead of dropping.
type LocalDeliverer struct {
	locator SessionLocator
	log     *slog.Logger
}

// NewLocalDeliverer builds a deliverer over the given locator.
func NewLocalDeliverer(locator SessionLocator, log *slog.Logger) *LocalDeliverer {
	if log == nil {
		log = slog.Default()
	}
	return &LocalDeliverer{locator: locator, log: log}
}

func (d *LocalDeliverer) Deliver(ctx context.Context, st stanza.Stanza) error {
	if !st.HasTo() {
		return nil
	}
	if route, ok := d.locator.Session(st.To()); ok {
		return route.Process(ctx, st)
	}
	d.log.Debug("stanza dropped", "kind", st.Kind().String(), "to", st.To().String())
	return nil
}

package forecast

import (
	"context"
	"time"

	"k8s.io/klog/v2"
)

// Poller periodically fetches the provider forecast and merges it into the
// store. Material revisions (outdoor-temperature change beyond the
// threshold) are signalled on Revised so the control loop can replan.
type Poller struct {
	client            WeatherClient
	store             *Store
	lat, lon          float64
	lookAheadHours    int
	interval          time.Duration
	revisionThreshold float64

	// Revised receives one signal per material forecast revision. Buffered;
	// a slow consumer drops signals rather than blocking the poll.
	Revised chan struct{}
}

// NewPoller creates a forecast poller.
func NewPoller(client WeatherClient, store *Store, lat, lon float64, lookAheadHours int, interval time.Duration, revisionThreshold float64) *Poller {
	return &Poller{
		client:            client,
		store:             store,
		lat:               lat,
		lon:               lon,
		lookAheadHours:    lookAheadHours,
		interval:          interval,
		revisionThreshold: revisionThreshold,
		Revised:           make(chan struct{}, 1),
	}
}

// Run polls until the context is cancelled. A failed poll is logged and
// retried at the next tick; the stored forecast remains usable meanwhile.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			klog.V(2).InfoS("Forecast poller exiting")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	samples, err := p.client.GetForecast(ctx, p.lat, p.lon, p.lookAheadHours)
	if err != nil {
		klog.V(2).InfoS("Forecast poll failed, keeping previous forecast", "error", err)
		return
	}

	revision := p.store.Update(samples)
	if revision > p.revisionThreshold {
		klog.V(2).InfoS("Material forecast revision", "maxDelta", revision, "threshold", p.revisionThreshold)
		select {
		case p.Revised <- struct{}{}:
		default:
		}
	}
}

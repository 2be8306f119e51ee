package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"listing_watch/internal/model"
)

// Delivery is the result of sending one alert to one route.
type Delivery struct {
	Route model.NotificationRoute
	Err   error
}

// OK reports whether the alert was delivered.
func (d Delivery) OK() bool { return d.Err == nil }

// Dispatcher fans an alert out to every route, isolating failures per route.
type Dispatcher struct {
	channels    map[model.ChannelType]Channel
	timeout     time.Duration
	concurrency int
	log         *slog.Logger
}

// NewDispatcher creates a Dispatcher serving the given channels. Route types
// without a channel are reported as ErrUnsupportedRouteType.
func NewDispatcher(log *slog.Logger, timeout time.Duration, channels ...Channel) *Dispatcher {
	d := &Dispatcher{
		channels:    make(map[model.ChannelType]Channel, len(channels)),
		timeout:     timeout,
		concurrency: 4,
		log:         log,
	}
	for _, c := range channels {
		d.channels[c.Type()] = c
	}
	return d
}

// Dispatch renders and sends an alert to each route. It never retries and
// returns one Delivery per route, in route order.
func (d *Dispatcher) Dispatch(ctx context.Context, routes []model.NotificationRoute, render func(model.NotificationRoute) Message) []Delivery {
	out := make([]Delivery, len(routes))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, route := range routes {
		g.Go(func() error {
			err := d.send(ctx, route, render)
			if err != nil {
				err = &DeliveryError{RouteID: route.ID, Type: route.Type, Err: err}
				d.log.Error("deliver alert", "route_id", route.ID, "route", route.Name, "type", route.Type, "error", err)
			}
			out[i] = Delivery{Route: route, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Dispatcher) send(ctx context.Context, route model.NotificationRoute, render func(model.NotificationRoute) Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	c, ok := d.channels[route.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedRouteType, route.Type)
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return c.Send(ctx, route, render(route))
}

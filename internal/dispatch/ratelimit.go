package dispatch

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/inkwell-app/remindd/internal/models"
)

// RateLimited paces another dispatcher so a large due batch cannot flood
// the delivery channel.
type RateLimited struct {
	inner   Dispatcher
	limiter *rate.Limiter
}

func NewRateLimited(inner Dispatcher, perSecond float64) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (d *RateLimited) Name() string { return d.inner.Name() }

func (d *RateLimited) Dispatch(ctx context.Context, r *models.Reminder) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.inner.Dispatch(ctx, r)
}

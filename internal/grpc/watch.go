package grpcserver

import (
	"context"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tomasmejiag0/puracalle-food/internal/logger"
	"github.com/tomasmejiag0/puracalle-food/internal/orders"
	"github.com/tomasmejiag0/puracalle-food/internal/routing"
	"github.com/tomasmejiag0/puracalle-food/internal/tracking"
	"github.com/tomasmejiag0/puracalle-food/models"
)

// resyncEvery bounds how long a lagging watcher goes without a fresh snapshot.
const resyncEvery = time.Second

type watchKind int

const (
	watchOrder watchKind = iota
	watchCourier
)

type viewEvent struct {
	order  *models.Order
	sample *models.LocationSample
	trail  []models.LocationSample
	route  routing.Route
	notice *tracking.Notice
}

// streamView queues tracker callbacks for the stream goroutine. A full queue
// drops the event and asks for a resync instead of blocking the feed.
type streamView struct {
	ch     chan viewEvent
	lagged atomic.Bool
}

func (v *streamView) push(e viewEvent) {
	select {
	case v.ch <- e:
	default:
		v.lagged.Store(true)
	}
}

func (v *streamView) OrderChanged(o *models.Order) { v.push(viewEvent{order: o}) }

func (v *streamView) CourierMoved(s models.LocationSample, trail []models.LocationSample, r routing.Route) {
	v.push(viewEvent{sample: &s, trail: trail, route: r})
}

func (v *streamView) Terminal(_ *models.Order, n tracking.Notice) { v.push(viewEvent{notice: &n}) }

// watch streams one order to who until the order ends or the client leaves.
func (s *Server) watch(ctx context.Context, orderID string, who orders.Actor, kind watchKind, out *sender[WatchEvent]) error {
	if orderID == "" {
		return status.Error(codes.InvalidArgument, "order_id is required")
	}
	if _, err := s.orders.View(ctx, orderID, who); err != nil {
		return toStatus(err)
	}
	view := &streamView{ch: make(chan viewEvent, 64)}
	tr := tracking.NewTracker(orderID, s.feed, s.orders, view,
		tracking.WithRouter(s.router),
		tracking.WithHistory(s.history),
		tracking.WithTrailSize(s.trailSize),
		tracking.WithTrackerLogger(s.log))
	if err := tr.Start(ctx); err != nil {
		return toStatus(err)
	}
	defer tr.Close()

	log := s.log.With(logger.String("order_id", orderID), logger.String("viewer", who.ID))
	log.Debug("watch started")
	tick := time.NewTicker(resyncEvery)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-view.ch:
			switch {
			case e.notice != nil:
				return out.Send(&WatchEvent{Notice: e.notice})
			case e.order != nil:
				visible, err := orders.Visible(e.order, who)
				if err != nil {
					// e.g. another courier claimed the order being watched
					return toStatus(err)
				}
				if kind == watchOrder {
					if err := out.Send(&WatchEvent{Order: toOrderView(visible)}); err != nil {
						return err
					}
				}
			case e.sample != nil && kind == watchCourier:
				route := e.route
				if err := out.Send(&WatchEvent{Location: e.sample, Trail: e.trail, Route: &route}); err != nil {
					return err
				}
			}
		case <-tick.C:
			if !view.lagged.Swap(false) {
				continue
			}
			log.Debug("watcher lagged, resyncing")
			if err := tr.Resync(ctx); err != nil {
				return toStatus(err)
			}
			if o := tr.Order(); o.Detailed().Terminal() && len(view.ch) == 0 {
				// the terminal notice itself was dropped
				return out.Send(&WatchEvent{Notice: &tracking.Notice{Status: o.Detailed()}})
			}
		}
	}
}

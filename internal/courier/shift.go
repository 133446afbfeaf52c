// Package courier coordinates one courier's working session: claiming
// orders, going out for delivery and completing it, while keeping the
// location publisher running exactly as long as a delivery is en route.
package courier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomasmejiag0/puracalle-food/internal/logger"
	"github.com/tomasmejiag0/puracalle-food/internal/orders"
	"github.com/tomasmejiag0/puracalle-food/internal/realtime"
	"github.com/tomasmejiag0/puracalle-food/internal/retry"
	"github.com/tomasmejiag0/puracalle-food/internal/tracking"
	"github.com/tomasmejiag0/puracalle-food/models"
)

// Orders is the slice of orders.Service a courier uses.
type Orders interface {
	Get(ctx context.Context, orderID string) (*models.Order, error)
	Available(ctx context.Context, limit int) ([]*models.Order, error)
	Mine(ctx context.Context, courierID string) ([]*models.Order, error)
	Claim(ctx context.Context, orderID, courierID string) (*models.Order, error)
	StartDelivery(ctx context.Context, orderID, courierID string) (*models.Order, error)
	Release(ctx context.Context, orderID, courierID string) (*models.Order, error)
	Complete(ctx context.Context, req orders.CompleteRequest) (*models.Order, error)
}

// Feed delivers order changes.
type Feed interface {
	SubscribeOrder(orderID string, fn func(models.OrderChange)) realtime.Unsubscribe
}

// Shift is one courier's session.
type Shift struct {
	courierID string
	orders    Orders
	feed      Feed
	publisher *tracking.Publisher
	source    tracking.PositionSource
	policy    retry.Policy
	log       logger.ILogger

	mu      sync.Mutex
	handle  *tracking.Handle
	orderID string
	unsub   realtime.Unsubscribe
	closed  bool
}

// Option configures a Shift.
type Option func(*Shift)

// WithRetryPolicy overrides retry.Default for claim, release and complete.
func WithRetryPolicy(p retry.Policy) Option { return func(s *Shift) { s.policy = p } }

// WithLogger sets the logger.
func WithLogger(l logger.ILogger) Option { return func(s *Shift) { s.log = l } }

// NewShift starts a session for courierID. feed may be nil, in which case the
// publisher only stops on the courier's own actions.
func NewShift(courierID string, o Orders, feed Feed, pub *tracking.Publisher, src tracking.PositionSource, opts ...Option) (*Shift, error) {
	if courierID == "" {
		return nil, fmt.Errorf("%w: courier id is required", orders.ErrInvalidArgument)
	}
	if o == nil || pub == nil || src == nil {
		return nil, errors.New("courier: orders, publisher and position source are required")
	}
	s := &Shift{
		courierID: courierID,
		orders:    o,
		feed:      feed,
		publisher: pub,
		source:    src,
		policy:    retry.Default,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.String("courier_id", courierID))
	return s, nil
}

// CourierID returns the courier this shift belongs to.
func (s *Shift) CourierID() string { return s.courierID }

// Available lists claimable orders, oldest first.
func (s *Shift) Available(ctx context.Context, limit int) ([]*models.Order, error) {
	return s.orders.Available(ctx, limit)
}

// Mine lists the orders this courier holds.
func (s *Shift) Mine(ctx context.Context) ([]*models.Order, error) {
	return s.orders.Mine(ctx, s.courierID)
}

// Claim takes an order. Transient store failures are retried; when a retried
// attempt finds the order already ours, the earlier attempt won.
func (s *Shift) Claim(ctx context.Context, orderID string) (*models.Order, error) {
	var o *models.Order
	attempts := 0
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		attempts++
		var err error
		o, err = s.orders.Claim(ctx, orderID, s.courierID)
		return err
	}, orders.Retryable)
	if err != nil && attempts > 1 && errors.Is(err, orders.ErrAlreadyTaken) {
		if cur, gerr := s.orders.Get(ctx, orderID); gerr == nil && s.holds(cur) {
			return cur, nil
		}
	}
	return o, err
}

// StartDelivery moves a claimed order out for delivery and starts publishing
// the courier's position.
func (s *Shift) StartDelivery(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := s.orders.StartDelivery(ctx, orderID, s.courierID)
	if err != nil {
		return nil, err
	}
	if err := s.track(ctx, orderID); err != nil {
		return o, err
	}
	return o, nil
}

// Resume restarts publishing for an order already out for delivery, after an
// app restart for example.
func (s *Shift) Resume(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	st, ok := o.State.(models.OutForDelivery)
	if !ok || st.CourierID != s.courierID {
		return nil, fmt.Errorf("%w: order %s is not out for delivery with you", orders.ErrNotAuthorized, orderID)
	}
	if err := s.track(ctx, orderID); err != nil {
		return nil, err
	}
	return o, nil
}

// Release hands the order back to the pool and stops publishing for it.
func (s *Shift) Release(ctx context.Context, orderID string) (*models.Order, error) {
	var o *models.Order
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var err error
		o, err = s.orders.Release(ctx, orderID, s.courierID)
		return err
	}, orders.Retryable)
	if err != nil {
		return nil, err
	}
	s.untrack(orderID)
	return o, nil
}

// Complete finishes the delivery with the customer's code. The publisher
// keeps running on a wrong code so the courier can try again.
func (s *Shift) Complete(ctx context.Context, orderID, code, photoRef string) (*models.Order, error) {
	req := orders.CompleteRequest{OrderID: orderID, CourierID: s.courierID, Code: code, PhotoRef: photoRef}
	var o *models.Order
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var err error
		o, err = s.orders.Complete(ctx, req)
		return err
	}, orders.Retryable)
	if err != nil {
		return nil, err
	}
	s.untrack(orderID)
	return o, nil
}

// Tracking returns the order whose delivery is being published, if any.
func (s *Shift) Tracking() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderID, s.handle.Running()
}

// Handle exposes the running publisher handle, or nil.
func (s *Shift) Handle() *tracking.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Leave ends the shift. It stops publishing and is safe to call twice.
func (s *Shift) Leave() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.untrack("")
}

func (s *Shift) track(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("courier: shift ended")
	}
	if s.orderID == orderID && s.handle.Running() {
		return nil
	}
	s.stopLocked()

	// The publisher outlives the request that started it.
	h, err := s.publisher.Start(context.WithoutCancel(ctx), s.courierID, orderID, s.source)
	if err != nil {
		return fmt.Errorf("start location publisher: %w", err)
	}
	s.handle = h
	s.orderID = orderID
	if s.feed != nil {
		s.unsub = s.feed.SubscribeOrder(orderID, s.watch)
	}
	s.log.Info("location publishing started", logger.String("order_id", orderID))
	return nil
}

// watch stops publishing once the order is no longer en route with us, for
// instance after a cancellation or an operator reassignment.
func (s *Shift) watch(c models.OrderChange) {
	if c.Order == nil {
		return
	}
	if st, ok := c.Order.State.(models.OutForDelivery); ok && st.CourierID == s.courierID {
		return
	}
	s.log.Info("order left delivery, stopping publisher",
		logger.String("order_id", c.Order.ID), logger.String("status", string(c.Order.Detailed())))
	s.untrack(c.Order.ID)
}

// untrack stops the publisher if it belongs to orderID, or any publisher
// when orderID is empty.
func (s *Shift) untrack(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if orderID != "" && orderID != s.orderID {
		return
	}
	s.stopLocked()
}

func (s *Shift) stopLocked() {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.handle.Stop()
	s.handle = nil
	s.orderID = ""
}

func (s *Shift) holds(o *models.Order) bool {
	id, ok := o.AssignedCourier()
	return ok && id == s.courierID
}

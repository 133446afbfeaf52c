package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomasmejiag0/puracalle-food/internal/geo"
	"github.com/tomasmejiag0/puracalle-food/internal/logger"
	"github.com/tomasmejiag0/puracalle-food/models"
	"github.com/tomasmejiag0/puracalle-food/repository"
)

// EvidencePrefix is the blob key prefix for delivery photos.
const EvidencePrefix = "delivery-photos/"

// Feed receives every committed order change.
type Feed interface {
	PublishOrder(change models.OrderChange)
}

// Notifier hands status events to the notification service.
type Notifier interface {
	Notify(ctx context.Context, ev models.StatusEvent) error
}

// BlobStore stores evidence photos and returns a durable reference.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
}

// Actor identifies who is asking.
type Actor struct {
	Role Role
	ID   string
}

// PlaceOrderRequest carries the checkout result from the cart.
type PlaceOrderRequest struct {
	CustomerID  string
	Items       []models.Item
	TotalAmount int64
	Address     models.Address
}

// CompleteRequest is a courier's attempt to finish a delivery.
type CompleteRequest struct {
	OrderID   string
	CourierID string
	Code      string
	// PhotoRef may be empty when evidence was attached earlier.
	PhotoRef string
}

// Service applies order transitions. Every write is a single conditional
// update; when the row changed underneath, the order is reloaded and the
// request re-evaluated against the fresh state.
type Service struct {
	orders   repository.OrderRepositoryI
	photos   repository.PhotoRepositoryI
	blobs    BlobStore
	feed     Feed
	notifier Notifier
	log      logger.ILogger
	tracer   trace.Tracer

	initial         models.DetailedStatus
	machine         Machine
	now             func() time.Time
	newID           func() string
	newCode         func() (string, error)
	claimTimeout    time.Duration
	completeTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

func WithFeed(f Feed) Option             { return func(s *Service) { s.feed = f } }
func WithNotifier(n Notifier) Option     { return func(s *Service) { s.notifier = n } }
func WithBlobStore(b BlobStore) Option   { return func(s *Service) { s.blobs = b } }
func WithLogger(l logger.ILogger) Option { return func(s *Service) { s.log = l } }
func WithTracer(t trace.Tracer) Option   { return func(s *Service) { s.tracer = t } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithInitialStatus sets the state new orders are created in.
func WithInitialStatus(st models.DetailedStatus) Option {
	return func(s *Service) { s.initial = st }
}

// WithTimeouts bounds claim/release and completion calls.
func WithTimeouts(claim, complete time.Duration) Option {
	return func(s *Service) {
		s.claimTimeout = claim
		s.completeTimeout = complete
	}
}

// WithIDGenerator replaces uuid order ids.
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

// WithCodeGenerator replaces the random delivery code source.
func WithCodeGenerator(f func() (string, error)) Option { return func(s *Service) { s.newCode = f } }

// NewService builds a Service over the order and photo repositories.
func NewService(orders repository.OrderRepositoryI, photos repository.PhotoRepositoryI, opts ...Option) (*Service, error) {
	if orders == nil || photos == nil {
		return nil, errors.New("orders: repositories are required")
	}
	s := &Service{
		orders:          orders,
		photos:          photos,
		log:             logger.Nop(),
		tracer:          otel.Tracer("github.com/tomasmejiag0/puracalle-food/internal/orders"),
		initial:         models.StatusReadyForPickup,
		now:             time.Now,
		newID:           uuid.NewString,
		newCode:         GenerateCode,
		claimTimeout:    10 * time.Second,
		completeTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	m, err := NewMachine(s.initial)
	if err != nil {
		return nil, err
	}
	s.machine = m
	return s, nil
}

// Machine exposes the transition rules the service enforces.
func (s *Service) Machine() Machine { return s.machine }

// PlaceOrder creates an order in the initial state with a fresh delivery code.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (o *models.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.PlaceOrder", trace.WithAttributes(attribute.String("customer.id", req.CustomerID)))
	defer func() { endSpan(span, err) }()

	if err := validatePlaceOrder(req); err != nil {
		return nil, err
	}
	code, err := s.newCode()
	if err != nil {
		return nil, err
	}
	if !ValidCode(code) {
		return nil, fmt.Errorf("generated delivery code %q is not five digits", code)
	}
	st, _ := models.InitialState(s.machine.Initial())
	o, err = s.orders.Create(ctx, &models.Order{
		ID:           s.newID(),
		CustomerID:   req.CustomerID,
		Items:        req.Items,
		TotalAmount:  req.TotalAmount,
		Address:      req.Address,
		DeliveryCode: code,
		State:        st,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return nil, storeErr(err)
	}
	s.log.Info("order placed",
		logger.String("order_id", o.ID),
		logger.String("customer_id", o.CustomerID),
		logger.String("status", string(o.Detailed())))
	s.publish(ctx, "", o)
	return o, nil
}

func validatePlaceOrder(req PlaceOrderRequest) error {
	switch {
	case strings.TrimSpace(req.CustomerID) == "":
		return fmt.Errorf("%w: customer id is required", ErrInvalidArgument)
	case len(req.Items) == 0:
		return fmt.Errorf("%w: order has no items", ErrInvalidArgument)
	case req.TotalAmount < 0:
		return fmt.Errorf("%w: negative total", ErrInvalidArgument)
	case !(geo.Point{Lat: req.Address.Lat, Lng: req.Address.Lng}).Valid():
		return fmt.Errorf("%w: address coordinates out of range", ErrInvalidArgument)
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 || it.UnitPrice < 0 {
			return fmt.Errorf("%w: item %q has invalid quantity or price", ErrInvalidArgument, it.ProductID)
		}
	}
	return nil
}

// Get returns the current snapshot of an order.
func (s *Service) Get(ctx context.Context, orderID string) (*models.Order, error) {
	return s.load(ctx, orderID)
}

// View returns the order as the actor may see it. Only the owning customer
// sees the delivery code.
func (s *Service) View(ctx context.Context, orderID string, who Actor) (*models.Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return Visible(o, who)
}

// Visible applies the read rules of View to a snapshot the caller already
// holds, such as one received from the change feed.
func Visible(o *models.Order, who Actor) (*models.Order, error) {
	switch who.Role {
	case RoleCustomer:
		if o.CustomerID != who.ID {
			return nil, ErrNotAuthorized
		}
		return o, nil
	case RoleCourier:
		if !courierMayView(o, who.ID) {
			return nil, ErrNotAuthorized
		}
	case RoleKitchen:
	default:
		return nil, ErrNotAuthorized
	}
	redacted := *o
	redacted.DeliveryCode = ""
	return &redacted, nil
}

func courierMayView(o *models.Order, courierID string) bool {
	switch st := o.State.(type) {
	case models.ReadyForPickup:
		return true
	case models.AssignedToDriver:
		return st.CourierID == courierID
	case models.OutForDelivery:
		return st.CourierID == courierID
	case models.Delivered:
		return st.CourierID == courierID
	}
	return false
}

// Available lists offered, unassigned orders oldest first.
func (s *Service) Available(ctx context.Context, limit int) ([]*models.Order, error) {
	out, err := s.orders.ListAvailable(ctx, limit)
	return out, storeErr(err)
}

// Mine lists the orders the courier holds, oldest first.
func (s *Service) Mine(ctx context.Context, courierID string) ([]*models.Order, error) {
	if courierID == "" {
		return nil, fmt.Errorf("%w: courier id is required", ErrInvalidArgument)
	}
	out, err := s.orders.ListForCourier(ctx, courierID)
	return out, storeErr(err)
}

// History lists the customer's orders, newest first.
func (s *Service) History(ctx context.Context, customerID string, limit int) ([]*models.Order, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidArgument)
	}
	out, err := s.orders.ListByCustomer(ctx, customerID, limit)
	return out, storeErr(err)
}

// Claim atomically assigns an available order to courierID and returns the
// post-claim snapshot. Losing the race yields ErrAlreadyTaken.
func (s *Service) Claim(ctx context.Context, orderID, courierID string) (o *models.Order, err error) {
	ctx, span := s.startSpan(ctx, "orders.Claim", orderID, courierID)
	defer func() { endSpan(span, err) }()
	if err := requireIDs(orderID, courierID); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.claimTimeout)
	defer cancel()

	o, err = s.apply(ctx, orderID, step{
		op:   "claim",
		role: RoleCourier,
		to:   models.StatusAssignedToDriver,
		// Whatever took the order out of the pool under us, the caller only
		// needs to refresh its list.
		lost: func(err error) error {
			return fmt.Errorf("%w: order %s left the pool during the claim (%v)", ErrAlreadyTaken, orderID, err)
		},
		write: func(ctx context.Context, at time.Time) (*models.Order, error) {
			return s.orders.Claim(ctx, orderID, courierID, at)
		},
	})
	var te *TransitionError
	if errors.As(err, &te) {
		switch te.From {
		case models.StatusAssignedToDriver, models.StatusOutForDelivery, models.StatusDelivered:
			return nil, fmt.Errorf("%w: order %s is %s", ErrAlreadyTaken, orderID, te.From)
		}
	}
	return o, err
}

// StartDelivery moves the courier's assigned order out for delivery.
func (s *Service) StartDelivery(ctx context.Context, orderID, courierID string) (o *models.Order, err error) {
	ctx, span := s.startSpan(ctx, "orders.StartDelivery", orderID, courierID)
	defer func() { endSpan(span, err) }()
	if err := requireIDs(orderID, courierID); err != nil {
		return nil, err
	}
	return s.apply(ctx, orderID, step{
		op:        "start_delivery",
		role:      RoleCourier,
		to:        models.StatusOutForDelivery,
		authorize: assignee(courierID),
		write: func(ctx context.Context, at time.Time) (*models.Order, error) {
			return s.orders.StartDelivery(ctx, orderID, courierID, at)
		},
	})
}

// Release returns the courier's order to the available pool. Releasing an
// order that is already back in the pool is a no-op.
func (s *Service) Release(ctx context.Context, orderID, courierID string) (o *models.Order, err error) {
	ctx, span := s.startSpan(ctx, "orders.Release", orderID, courierID)
	defer func() { endSpan(span, err) }()
	if err := requireIDs(orderID, courierID); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.claimTimeout)
	defer cancel()
	return s.apply(ctx, orderID, step{
		op:        "release",
		role:      RoleCourier,
		to:        models.StatusReadyForPickup,
		authorize: assignee(courierID),
		done: func(o *models.Order) bool {
			_, ok := o.State.(models.ReadyForPickup)
			return ok
		},
		write: func(ctx context.Context, at time.Time) (*models.Order, error) {
			return s.orders.Release(ctx, orderID, courierID, at)
		},
	})
}

// Cancel cancels the customer's order. It is rejected once the courier is en route.
func (s *Service) Cancel(ctx context.Context, orderID, customerID string) (o *models.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.Cancel", trace.WithAttributes(
		attribute.String("order.id", orderID), attribute.String("customer.id", customerID)))
	defer func() { endSpan(span, err) }()
	if err := requireIDs(orderID, customerID); err != nil {
		return nil, err
	}
	return s.apply(ctx, orderID, step{
		op:   "cancel",
		role: RoleCustomer,
		to:   models.StatusCancelled,
		authorize: func(o *models.Order) error {
			if o.CustomerID != customerID {
				return ErrNotAuthorized
			}
			return nil
		},
		write: func(ctx context.Context, at time.Time) (*models.Order, error) {
			return s.orders.Cancel(ctx, orderID, customerID, CancellableStates, at)
		},
	})
}

// Advance applies a kitchen step: pending to preparing, preparing to ready_for_pickup.
func (s *Service) Advance(ctx context.Context, orderID string, to models.DetailedStatus) (o *models.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.Advance", trace.WithAttributes(
		attribute.String("order.id", orderID), attribute.String("order.to", string(to))))
	defer func() { endSpan(span, err) }()
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidArgument)
	}
	var from models.DetailedStatus
	return s.apply(ctx, orderID, step{
		op:   "advance",
		role: RoleKitchen,
		to:   to,
		authorize: func(o *models.Order) error {
			from = o.Detailed()
			return nil
		},
		write: func(ctx context.Context, at time.Time) (*models.Order, error) {
			return s.orders.Advance(ctx, orderID, from, to, at)
		},
	})
}

// AttachEvidence uploads the delivery photo and records it for the order.
// The blob key is derived from the order id, so a retried upload overwrites
// the previous object instead of orphaning it. Once the caller delivered the
// order, the stored record is returned and nothing is uploaded.
func (s *Service) AttachEvidence(ctx context.Context, orderID, courierID string, photo io.Reader) (p *models.DeliveryPhoto, err error) {
	ctx, span := s.startSpan(ctx, "orders.AttachEvidence", orderID, courierID)
	defer func() { endSpan(span, err) }()
	if err := requireIDs(orderID, courierID); err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, errors.New("orders: no blob store configured")
	}
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if st, ok := o.State.(models.Delivered); ok && st.CourierID == courierID {
		return s.deliveredEvidence(ctx, o, st)
	}
	if err := s.machine.Check(RoleCourier, o.Detailed(), models.StatusDelivered); err != nil {
		return nil, err
	}
	if err := assignee(courierID)(o); err != nil {
		return nil, err
	}
	ref, err := s.blobs.Put(ctx, EvidencePrefix+orderID, photo)
	if err != nil {
		return nil, fmt.Errorf("%w: upload evidence: %w", ErrStoreUnavailable, err)
	}
	p, err = s.photos.Upsert(ctx, &models.DeliveryPhoto{OrderID: orderID, CourierID: courierID, PhotoRef: ref, UpdatedAt: s.now()})
	if err != nil {
		return nil, storeErr(err)
	}
	s.log.Info("delivery evidence stored", logger.String("order_id", orderID), logger.String("photo_ref", ref))
	return p, nil
}

func (s *Service) deliveredEvidence(ctx context.Context, o *models.Order, st models.Delivered) (*models.DeliveryPhoto, error) {
	p, err := s.photos.Get(ctx, o.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	if p == nil {
		p = &models.DeliveryPhoto{OrderID: o.ID, CourierID: st.CourierID, PhotoRef: st.PhotoRef, UpdatedAt: st.DeliveredAt}
	}
	return p, nil
}

// Complete verifies the delivery code and evidence photo, then marks the
// order delivered in one conditional update. A wrong code leaves the order
// untouched and keeps the photo record for the next attempt. Retrying after a
// successful commit returns the delivered order.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (o *models.Order, err error) {
	ctx, span := s.startSpan(ctx, "orders.Complete", req.OrderID, req.CourierID)
	defer func() { endSpan(span, err) }()
	if err := requireIDs(req.OrderID, req.CourierID); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.completeTimeout)
	defer cancel()

	var photoRef string
	return s.apply(ctx, req.OrderID, step{
		op:        "complete",
		role:      RoleCourier,
		to:        models.StatusDelivered,
		authorize: assignee(req.CourierID),
		done: func(o *models.Order) bool {
			st, ok := o.State.(models.Delivered)
			return ok && st.CourierID == req.CourierID
		},
		prepare: func(ctx context.Context, o *models.Order) error {
			ref, err := s.evidence(ctx, o.ID, req.CourierID, strings.TrimSpace(req.PhotoRef))
			if err != nil {
				return err
			}
			if !CodeMatches(o.DeliveryCode, req.Code) {
				s.log.Info("delivery code mismatch", logger.String("order_id", o.ID), logger.String("courier_id", req.CourierID))
				return ErrCodeMismatch
			}
			photoRef = ref
			return nil
		},
		write: func(ctx context.Context, at time.Time) (*models.Order, error) {
			return s.orders.Complete(ctx, req.OrderID, req.CourierID, photoRef, at)
		},
	})
}

// evidence records ref for the order, or reuses the stored record when ref is empty.
func (s *Service) evidence(ctx context.Context, orderID, courierID, ref string) (string, error) {
	if ref != "" {
		p, err := s.photos.Upsert(ctx, &models.DeliveryPhoto{OrderID: orderID, CourierID: courierID, PhotoRef: ref, UpdatedAt: s.now()})
		if err != nil {
			return "", storeErr(err)
		}
		return p.PhotoRef, nil
	}
	p, err := s.photos.Get(ctx, orderID)
	if err != nil {
		return "", storeErr(err)
	}
	if p == nil {
		return "", ErrEvidenceRequired
	}
	return p.PhotoRef, nil
}

type step struct {
	op   string
	role Role
	to   models.DetailedStatus
	// done reports that the order already reflects the request.
	done func(o *models.Order) bool
	// lost maps a rejection found after a lost conditional write.
	lost      func(err error) error
	authorize func(o *models.Order) error
	prepare   func(ctx context.Context, o *models.Order) error
	write     func(ctx context.Context, at time.Time) (*models.Order, error)
}

const maxAttempts = 3

func (s *Service) apply(ctx context.Context, orderID string, st step) (*models.Order, error) {
	raced := false
	reject := func(err error) error {
		if raced && st.lost != nil {
			return st.lost(err)
		}
		return err
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cur, err := s.load(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if st.done != nil && st.done(cur) {
			return cur, nil
		}
		if err := s.machine.Check(st.role, cur.Detailed(), st.to); err != nil {
			return nil, reject(err)
		}
		if st.authorize != nil {
			if err := st.authorize(cur); err != nil {
				return nil, reject(err)
			}
		}
		if st.prepare != nil {
			if err := st.prepare(ctx, cur); err != nil {
				return nil, err
			}
		}
		next, err := st.write(ctx, s.now())
		if errors.Is(err, repository.ErrConditionNotMet) {
			raced = true
			s.log.Debug("order changed during transition, reloading",
				logger.String("order_id", orderID),
				logger.String("op", st.op),
				logger.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, storeErr(err)
		}
		s.log.Info("order transition",
			logger.String("order_id", orderID),
			logger.String("op", st.op),
			logger.String("from", string(cur.Detailed())),
			logger.String("to", string(next.Detailed())))
		s.publish(ctx, cur.Detailed(), next)
		return next, nil
	}
	return nil, fmt.Errorf("%w: order %s kept changing during %s", ErrStoreUnavailable, orderID, st.op)
}

func (s *Service) load(ctx context.Context, orderID string) (*models.Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidArgument)
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, storeErr(err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	return o, nil
}

// publish fans a committed change out to the feed and the notifier.
// Notification failures are logged; the transition already happened.
func (s *Service) publish(ctx context.Context, prev models.DetailedStatus, o *models.Order) {
	if s.feed != nil {
		s.feed.PublishOrder(models.OrderChange{Order: o, Previous: prev})
	}
	if s.notifier == nil {
		return
	}
	ev := models.StatusEvent{UserID: o.CustomerID, OrderID: o.ID, Status: o.Detailed(), ChangedAt: o.UpdatedAt}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warning("status notification failed",
			logger.String("order_id", o.ID),
			logger.String("status", string(ev.Status)),
			logger.Error(err))
	}
}

func assignee(courierID string) func(o *models.Order) error {
	return func(o *models.Order) error {
		if id, ok := o.AssignedCourier(); ok && id != courierID {
			return ErrNotAuthorized
		}
		return nil
	}
}

func requireIDs(orderID, actorID string) error {
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(actorID) == "" {
		return fmt.Errorf("%w: order id and actor id are required", ErrInvalidArgument)
	}
	return nil
}

func (s *Service) startSpan(ctx context.Context, name, orderID, courierID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("courier.id", courierID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.class", Classify(err).String()))
	}
	span.End()
}

package grpcserver

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tomasmejiag0/puracalle-food/internal/orders"
	"github.com/tomasmejiag0/puracalle-food/models"
)

// CourierClient calls CourierService as one courier. It satisfies the order
// and sink interfaces a courier.Shift needs, so the shift can run on a device
// against a remote server. The courier is the token's subject; courierID
// arguments are only checked against it by the server.
type CourierClient struct {
	conn  grpc.ClientConnInterface
	token string
}

// NewCourierClient wraps conn. token is the courier's bearer JWT.
func NewCourierClient(conn grpc.ClientConnInterface, token string) *CourierClient {
	return &CourierClient{conn: conn, token: token}
}

func (c *CourierClient) invoke(ctx context.Context, method string, req, resp any) error {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	err := c.conn.Invoke(ctx, FullMethod(courierService, method), req, resp, grpc.CallContentSubtype(CodecName))
	return fromStatus(err)
}

func (c *CourierClient) order(ctx context.Context, method string, req any) (*models.Order, error) {
	var v OrderView
	if err := c.invoke(ctx, method, req, &v); err != nil {
		return nil, err
	}
	return fromOrderView(&v)
}

func (c *CourierClient) list(ctx context.Context, method string, req any) ([]*models.Order, error) {
	var resp ListOrdersResponse
	if err := c.invoke(ctx, method, req, &resp); err != nil {
		return nil, err
	}
	out := make([]*models.Order, 0, len(resp.Orders))
	for _, v := range resp.Orders {
		o, err := fromOrderView(v)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (c *CourierClient) Get(ctx context.Context, orderID string) (*models.Order, error) {
	return c.order(ctx, "GetOrder", &OrderRequest{OrderID: orderID})
}

func (c *CourierClient) Available(ctx context.Context, limit int) ([]*models.Order, error) {
	return c.list(ctx, "ListAvailable", &ListOrdersRequest{Limit: limit})
}

func (c *CourierClient) Mine(ctx context.Context, _ string) ([]*models.Order, error) {
	return c.list(ctx, "ListMine", &Empty{})
}

func (c *CourierClient) Claim(ctx context.Context, orderID, _ string) (*models.Order, error) {
	return c.order(ctx, "Claim", &OrderRequest{OrderID: orderID})
}

func (c *CourierClient) StartDelivery(ctx context.Context, orderID, _ string) (*models.Order, error) {
	return c.order(ctx, "StartDelivery", &OrderRequest{OrderID: orderID})
}

func (c *CourierClient) Release(ctx context.Context, orderID, _ string) (*models.Order, error) {
	return c.order(ctx, "Release", &OrderRequest{OrderID: orderID})
}

func (c *CourierClient) Complete(ctx context.Context, req orders.CompleteRequest) (*models.Order, error) {
	return c.order(ctx, "CompleteDelivery", &CompleteDeliveryRequest{
		OrderID:  req.OrderID,
		Code:     req.Code,
		PhotoRef: req.PhotoRef,
	})
}

// PublishLocation sends one sample. It makes the client a tracking.Sink.
func (c *CourierClient) PublishLocation(ctx context.Context, s models.LocationSample) error {
	req := &PublishLocationRequest{
		Lat:       s.Lat,
		Lng:       s.Lng,
		Accuracy:  s.Accuracy,
		Heading:   s.Heading,
		Speed:     s.Speed,
		SampledAt: s.SampledAt,
	}
	if s.OrderID != nil {
		req.OrderID = *s.OrderID
	}
	return c.invoke(ctx, "PublishLocation", req, &Empty{})
}

// fromStatus turns a gRPC status back into the service error it was mapped
// from, keeping the server's message. The ErrorInfo reason decides; the code
// alone is used for statuses without one, such as auth failures.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	base := reasonError(st)
	if base == nil {
		switch st.Code() {
		case codes.NotFound:
			base = orders.ErrNotFound
		case codes.Aborted:
			base = orders.ErrAlreadyTaken
		case codes.FailedPrecondition:
			base = orders.ErrInvalidTransition
		case codes.InvalidArgument:
			base = orders.ErrInvalidArgument
		case codes.PermissionDenied, codes.Unauthenticated:
			base = orders.ErrNotAuthorized
		case codes.Unavailable:
			base = orders.ErrStoreUnavailable
		case codes.DeadlineExceeded:
			base = context.DeadlineExceeded
		case codes.Canceled:
			base = context.Canceled
		default:
			return err
		}
	}
	return fmt.Errorf("%w: %s", base, st.Message())
}

func reasonError(st *status.Status) error {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return errorFor(info.GetReason())
		}
	}
	return nil
}

// fromOrderView rebuilds the state variant from the wire form.
func fromOrderView(v *OrderView) (*models.Order, error) {
	o := &models.Order{
		ID:           v.ID,
		CustomerID:   v.CustomerID,
		Items:        v.Items,
		TotalAmount:  v.TotalAmount,
		Address:      v.Address,
		DeliveryCode: v.DeliveryCode,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
	switch v.DetailedStatus {
	case models.StatusAssignedToDriver:
		o.State = models.AssignedToDriver{CourierID: v.CourierID, AcceptedAt: deref(v.AcceptedAt)}
	case models.StatusOutForDelivery:
		o.State = models.OutForDelivery{
			CourierID:  v.CourierID,
			AcceptedAt: deref(v.AcceptedAt),
			DepartedAt: deref(v.DepartedAt),
		}
	case models.StatusDelivered:
		o.State = models.Delivered{
			CourierID:   v.CourierID,
			AcceptedAt:  deref(v.AcceptedAt),
			DepartedAt:  deref(v.DepartedAt),
			DeliveredAt: deref(v.DeliveredAt),
			PhotoRef:    v.PhotoRef,
		}
	case models.StatusCancelled:
		o.State = models.Cancelled{CancelledAt: deref(v.CancelledAt)}
	default:
		st, ok := models.InitialState(v.DetailedStatus)
		if !ok {
			return nil, fmt.Errorf("unknown order status %q", v.DetailedStatus)
		}
		o.State = st
	}
	return o, nil
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

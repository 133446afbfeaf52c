package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/tomasmejiag0/puracalle-food/internal/auth"
	"github.com/tomasmejiag0/puracalle-food/internal/orders"
	"github.com/tomasmejiag0/puracalle-food/models"
)

const courierService = "CourierService"

// CourierServer implements CourierService RPCs.
type CourierServer struct {
	*Server
}

func (s *CourierServer) desc() grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: pkg + "." + courierService,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			unary(courierService, "ListAvailable", s.ListAvailable),
			unary(courierService, "ListMine", s.ListMine),
			unary(courierService, "GetOrder", s.GetOrder),
			unary(courierService, "Claim", s.Claim),
			unary(courierService, "Release", s.Release),
			unary(courierService, "StartDelivery", s.StartDelivery),
			unary(courierService, "CompleteDelivery", s.CompleteDelivery),
			unary(courierService, "PublishLocation", s.PublishLocation),
		},
		Streams: []grpc.StreamDesc{
			serverStream("WatchOrder", s.WatchOrder),
		},
	}
}

// ListAvailable returns claimable orders, oldest first.
func (s *CourierServer) ListAvailable(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	if _, err := auth.RequireCourier(ctx); err != nil {
		return nil, err
	}
	list, err := s.orders.Available(ctx, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return redacted(list), nil
}

// ListMine returns the orders the caller holds.
func (s *CourierServer) ListMine(ctx context.Context, _ *Empty) (*ListOrdersResponse, error) {
	p, err := auth.RequireCourier(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.orders.Mine(ctx, p.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	return redacted(list), nil
}

// GetOrder returns an order the caller holds, delivered or may claim.
func (s *CourierServer) GetOrder(ctx context.Context, req *OrderRequest) (*OrderView, error) {
	p, err := auth.RequireCourier(ctx)
	if err != nil {
		return nil, err
	}
	return s.courierResult(s.orders.View(ctx, req.OrderID, orders.Actor{Role: orders.RoleCourier, ID: p.Name}))
}

// Claim takes an available order. Exactly one of many concurrent callers wins;
// the others get ABORTED.
func (s *CourierServer) Claim(ctx context.Context, req *OrderRequest) (*OrderView, error) {
	p, err := auth.RequireCourier(ctx)
	if err != nil {
		return nil, err
	}
	return s.courierResult(s.orders.Claim(ctx, req.OrderID, p.Name))
}

// Release hands the caller's order back to the pool.
func (s *CourierServer) Release(ctx context.Context, req *OrderRequest) (*OrderView, error) {
	p, err := auth.RequireCourier(ctx)
	if err != nil {
		return nil, err
	}
	return s.courierResult(s.orders.Release(ctx, req.OrderID, p.Name))
}

// StartDelivery marks the caller's order out for delivery.
func (s *CourierServer) StartDelivery(ctx context.Context, req *OrderRequest) (*OrderView, error) {
	p, err := auth.RequireCourier(ctx)
	if err != nil {
		return nil, err
	}
	return s.courierResult(s.orders.StartDelivery(ctx, req.OrderID, p.Name))
}

// CompleteDelivery checks the customer's code and photo evidence and marks
// the order delivered.
func (s *CourierServer) CompleteDelivery(ctx context.Context, req *CompleteDeliveryRequest) (*OrderView, error) {
	p, err := auth.RequireCourier(ctx)
	if err != nil {
		return nil, err
	}
	return s.courierResult(s.orders.Complete(ctx, orders.CompleteRequest{
		OrderID:   req.OrderID,
		CourierID: p.Name,
		Code:      req.Code,
		PhotoRef:  req.PhotoRef,
	}))
}

// PublishLocation records one position sample of the caller.
func (s *CourierServer) PublishLocation(ctx context.Context, req *PublishLocationRequest) (*Empty, error) {
	p, err := auth.RequireCourier(ctx)
	if err != nil {
		return nil, err
	}
	sample := models.LocationSample{
		CourierID: p.Name,
		Lat:       req.Lat,
		Lng:       req.Lng,
		Accuracy:  req.Accuracy,
		Heading:   req.Heading,
		Speed:     req.Speed,
		SampledAt: req.SampledAt,
	}
	if req.OrderID != "" {
		id := req.OrderID
		sample.OrderID = &id
	}
	if err := s.locations.PublishLocation(ctx, sample); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// WatchOrder streams changes of an order the caller holds or may claim, so a
// courier learns about cancellations while en route.
func (s *CourierServer) WatchOrder(req *OrderRequest, out *sender[WatchEvent]) error {
	p, err := auth.RequireCourier(out.Context())
	if err != nil {
		return err
	}
	return s.watch(out.Context(), req.OrderID, orders.Actor{Role: orders.RoleCourier, ID: p.Name}, watchOrder, out)
}

func (s *CourierServer) courierResult(o *models.Order, err error) (*OrderView, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	v := toOrderView(o)
	v.DeliveryCode = ""
	return v, nil
}

func redacted(list []*models.Order) *ListOrdersResponse {
	resp := toOrderViews(list)
	for _, v := range resp.Orders {
		v.DeliveryCode = ""
	}
	return resp
}

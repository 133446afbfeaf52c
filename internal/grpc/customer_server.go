package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/tomasmejiag0/puracalle-food/internal/auth"
	"github.com/tomasmejiag0/puracalle-food/internal/orders"
)

const customerService = "CustomerService"

// CustomerServer implements CustomerService: checkout, cancellation, history
// and live tracking of the customer's own orders.
type CustomerServer struct {
	*Server
}

func (s *CustomerServer) desc() grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: pkg + "." + customerService,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			unary(customerService, "PlaceOrder", s.PlaceOrder),
			unary(customerService, "CancelOrder", s.CancelOrder),
			unary(customerService, "GetOrder", s.GetOrder),
			unary(customerService, "ListOrders", s.ListOrders),
		},
		Streams: []grpc.StreamDesc{
			serverStream("WatchOrder", s.WatchOrder),
			serverStream("WatchCourier", s.WatchCourier),
		},
	}
}

// PlaceOrder creates an order for the calling customer.
func (s *CustomerServer) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderView, error) {
	p, err := auth.RequireCustomer(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.PlaceOrder(ctx, orders.PlaceOrderRequest{
		CustomerID:  p.Name,
		Items:       req.Items,
		TotalAmount: req.TotalAmount,
		Address:     req.Address,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toOrderView(o), nil
}

// CancelOrder cancels the caller's order while no courier is en route.
func (s *CustomerServer) CancelOrder(ctx context.Context, req *OrderRequest) (*OrderView, error) {
	p, err := auth.RequireCustomer(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.Cancel(ctx, req.OrderID, p.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	return toOrderView(o), nil
}

// GetOrder returns one of the caller's orders, delivery code included.
func (s *CustomerServer) GetOrder(ctx context.Context, req *OrderRequest) (*OrderView, error) {
	p, err := auth.RequireCustomer(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.View(ctx, req.OrderID, customer(p))
	if err != nil {
		return nil, toStatus(err)
	}
	return toOrderView(o), nil
}

// ListOrders returns the caller's order history, newest first.
func (s *CustomerServer) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	p, err := auth.RequireCustomer(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.orders.History(ctx, p.Name, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return toOrderViews(list), nil
}

// WatchOrder streams status changes of one order until it is delivered or cancelled.
func (s *CustomerServer) WatchOrder(req *OrderRequest, out *sender[WatchEvent]) error {
	p, err := auth.RequireCustomer(out.Context())
	if err != nil {
		return err
	}
	return s.watch(out.Context(), req.OrderID, customer(p), watchOrder, out)
}

// WatchCourier streams the assigned courier's location while the order is on
// its way. Nothing is sent while no courier holds the order.
func (s *CustomerServer) WatchCourier(req *OrderRequest, out *sender[WatchEvent]) error {
	p, err := auth.RequireCustomer(out.Context())
	if err != nil {
		return err
	}
	return s.watch(out.Context(), req.OrderID, customer(p), watchCourier, out)
}

func customer(p *auth.Principal) orders.Actor {
	return orders.Actor{Role: orders.RoleCustomer, ID: p.Name}
}

package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/tomasmejiag0/puracalle-food/internal/auth"
)

const kitchenService = "KitchenService"

// KitchenServer lets the restaurant move orders from pending to ready.
type KitchenServer struct {
	*Server
}

func (s *KitchenServer) desc() grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: pkg + "." + kitchenService,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			unary(kitchenService, "Advance", s.Advance),
		},
	}
}

// Advance applies one kitchen step.
func (s *KitchenServer) Advance(ctx context.Context, req *AdvanceRequest) (*OrderView, error) {
	if _, err := auth.RequireKitchen(ctx); err != nil {
		return nil, err
	}
	o, err := s.orders.Advance(ctx, req.OrderID, req.Status)
	if err != nil {
		return nil, toStatus(err)
	}
	v := toOrderView(o)
	v.DeliveryCode = ""
	return v, nil
}

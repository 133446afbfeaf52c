// Command courier drives one courier shift against a running server: it
// claims an order, goes out for delivery with a simulated GPS and completes
// the delivery with the customer's code. It is meant for field tests and
// demos of the live tracking screens.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tomasmejiag0/puracalle-food/internal/auth"
	"github.com/tomasmejiag0/puracalle-food/internal/config"
	"github.com/tomasmejiag0/puracalle-food/internal/courier"
	grpcserver "github.com/tomasmejiag0/puracalle-food/internal/grpc"
	"github.com/tomasmejiag0/puracalle-food/internal/logger"
	"github.com/tomasmejiag0/puracalle-food/internal/tracking"
	"github.com/tomasmejiag0/puracalle-food/models"
)

func main() {
	var (
		courierID = flag.String("courier", "", "courier id (token subject)")
		token     = flag.String("token", os.Getenv("COURIER_TOKEN"), "courier bearer token; minted from AUTH_JWT_SECRET when empty")
		orderID   = flag.String("order", "", "order to claim; the oldest available when empty")
		code      = flag.String("code", "", "delivery code; read from stdin on arrival when empty")
		photo     = flag.String("photo", "", "photo reference uploaded beforehand")
		startLat  = flag.Float64("lat", 4.6482, "start latitude")
		startLng  = flag.Float64("lng", -74.0636, "start longitude")
		speed     = flag.Float64("speed", 8, "simulated speed in m/s")
	)
	flag.Parse()

	cfg, err := config.LoadWithDefaults()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg := logger.New("courier", cfg.Service.LogLevel)
	defer func() { _ = lg.Sync() }()

	if *courierID == "" {
		log.Fatal("-courier is required")
	}
	tok := *token
	if tok == "" {
		tok, err = auth.Issue(auth.Principal{Name: *courierID, Kind: auth.KindCourier}, cfg.Auth.JWTSecret, 12*time.Hour)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
	}

	conn, err := grpc.NewClient(dialTarget(cfg.GRPC.Address),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial %s: %v", cfg.GRPC.Address, err)
	}
	defer func() { _ = conn.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := driver{
		client: grpcserver.NewCourierClient(conn, tok),
		cfg:    cfg,
		log:    lg.With(logger.String("courier_id", *courierID)),
		start:  models.Position{Lat: *startLat, Lng: *startLng},
		speed:  *speed,
	}
	if err := d.run(ctx, *courierID, *orderID, *code, *photo); err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("shift failed", logger.Error(err))
		_ = lg.Sync()
		os.Exit(1)
	}
}

type driver struct {
	client *grpcserver.CourierClient
	cfg    *config.Config
	log    logger.ILogger
	start  models.Position
	speed  float64
}

func (d driver) run(ctx context.Context, courierID, orderID, code, photo string) error {
	o, err := d.pick(ctx, orderID)
	if err != nil {
		return err
	}
	route := courier.NewRoute(d.start, models.Position{Lat: o.Address.Lat, Lng: o.Address.Lng}, d.speed, time.Second)
	pub := tracking.NewPublisher(d.client,
		tracking.WithInterval(d.cfg.Tracking.Interval),
		tracking.WithDistance(d.cfg.Tracking.DistanceMeters),
		tracking.WithPublisherLogger(d.log))
	shift, err := courier.NewShift(courierID, d.client, nil, pub, route, courier.WithLogger(d.log))
	if err != nil {
		return err
	}
	defer shift.Leave()

	if _, err := shift.Claim(ctx, o.ID); err != nil {
		return fmt.Errorf("claim %s: %w", o.ID, err)
	}
	d.log.Info("order claimed", logger.String("order_id", o.ID), logger.String("address", o.Address.Text))
	if _, err := shift.StartDelivery(ctx, o.ID); err != nil {
		return fmt.Errorf("start delivery: %w", err)
	}

	select {
	case <-route.Arrived():
	case <-shift.Handle().Done():
		// The publisher only stops early when the shift untracked the order.
		return fmt.Errorf("order %s left delivery before arrival", o.ID)
	case <-ctx.Done():
		_, rerr := shift.Release(context.WithoutCancel(ctx), o.ID)
		return errors.Join(ctx.Err(), rerr)
	}
	d.log.Info("arrived at destination", logger.String("order_id", o.ID))

	in := bufio.NewScanner(os.Stdin)
	for {
		c := code
		if c == "" {
			fmt.Print("delivery code: ")
			if !in.Scan() {
				return errors.New("no delivery code entered")
			}
			c = in.Text()
		}
		done, err := shift.Complete(ctx, o.ID, c, photo)
		if err == nil {
			d.log.Info("order delivered", logger.String("order_id", done.ID))
			return nil
		}
		fmt.Fprintln(os.Stderr, err)
		if code != "" {
			return err
		}
	}
}

func (d driver) pick(ctx context.Context, orderID string) (*models.Order, error) {
	if orderID != "" {
		return d.client.Get(ctx, orderID)
	}
	list, err := d.client.Available(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("no orders available")
	}
	return list[0], nil
}

// dialTarget turns a listen address like ":50051" into something dialable.
func dialTarget(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

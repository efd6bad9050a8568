package velopark

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/velopark/internal/core/model"
	"github.com/autopeer-io/velopark/internal/core/service"
	"github.com/autopeer-io/velopark/internal/registry"
	"github.com/autopeer-io/velopark/pkg/log"
)

// Fleet sizes the seeded catalog.
type Fleet struct {
	Lots     int
	Vehicles int
	Users    int
	// Credit is the starting balance of every user.
	Credit decimal.Decimal
}

type category struct {
	name     model.Category
	rate     decimal.Decimal
	flatFare decimal.Decimal
}

var categories = []category{
	{model.CategoryElectricBike, decimal.RequireFromString("0.20"), decimal.RequireFromString("1.00")},
	{model.CategoryScooter, decimal.RequireFromString("0.25"), decimal.RequireFromString("1.00")},
	{model.CategoryMuscular, decimal.RequireFromString("0.10"), decimal.RequireFromString("0.50")},
}

const (
	baseLat = 45.4642
	baseLng = 9.1900
)

// Seed fills the store with lots, vehicles and users and provisions one
// agent per vehicle. The bus must be started.
func (s *Server) Seed(ctx context.Context, f Fleet) error {
	if f.Lots <= 0 || f.Vehicles <= 0 || f.Users <= 0 {
		return fmt.Errorf("fleet needs at least one lot, vehicle and user: %+v", f)
	}

	lots := make([]*model.ParkingLot, 0, f.Lots)
	for i := range f.Lots {
		l := &model.ParkingLot{
			ID:       fmt.Sprintf("L%d", i+1),
			Name:     fmt.Sprintf("Parking %d", i+1),
			Lat:      baseLat + float64(i)*0.004,
			Lng:      baseLng + float64(i)*0.006,
			Capacity: f.Vehicles,
		}
		s.store.PutLot(l)
		lots = append(lots, l)
	}

	users := make([]string, 0, f.Users)
	for i := range f.Users {
		id := fmt.Sprintf("U%03d", i+1)
		users = append(users, id)
		s.store.PutUser(&model.User{
			ID:     id,
			Name:   fmt.Sprintf("Rider %d", i+1),
			Credit: f.Credit,
			Status: model.UserActive,
			Role:   model.RoleUser,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range f.Vehicles {
		c := categories[i%len(categories)]
		lot := lots[i%len(lots)]
		v := &model.Vehicle{
			ID:            fmt.Sprintf("V%03d", i+1),
			Category:      c.name,
			Status:        model.VehicleAvailable,
			RatePerMinute: c.rate,
			FlatFare:      c.flatFare,
			LotID:         lot.ID,
		}
		spec := registry.Spec{
			VehicleID: v.ID,
			LotID:     v.LotID,
			Electric:  c.name.Electric(),
			Lat:       lot.Lat,
			Lng:       lot.Lng,
		}
		if spec.Electric {
			level := float64(60 + (i*7)%40)
			v.Battery = &level
			spec.Battery = level
		}
		s.store.PutVehicle(v)

		g.Go(func() error {
			_, err := s.registry.Provision(gctx, spec)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	for _, l := range lots {
		s.lots = append(s.lots, l.ID)
	}
	s.users = append(s.users, users...)
	s.mu.Unlock()

	log.Info("Fleet seeded", "lots", f.Lots, "vehicles", f.Vehicles, "users", f.Users)
	return nil
}

// Simulation drives rides against a seeded fleet.
type Simulation struct {
	Rides       int
	Concurrency int
	// RideTime is how long each rider keeps the vehicle.
	RideTime time.Duration
	// MaintenanceRate is the probability that a rider reports a problem.
	MaintenanceRate float64
}

// Report summarizes a simulation run.
type Report struct {
	Started     int
	Ended       int
	Rejected    int
	Maintenance int
	Revenue     decimal.Decimal
	Elapsed     time.Duration
}

// Simulate runs sim.Rides rides, at most sim.Concurrency at a time. Rejected
// starts are counted, any other failure aborts the run.
func (s *Server) Simulate(ctx context.Context, sim Simulation) (Report, error) {
	s.mu.Lock()
	lots, users := s.lots, s.users
	s.mu.Unlock()
	if len(lots) == 0 || len(users) == 0 {
		return Report{}, errors.New("no fleet seeded")
	}

	var (
		mu     sync.Mutex
		report = Report{Revenue: decimal.Zero}
		begin  = time.Now()
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(sim.Concurrency, 1))
	for i := range sim.Rides {
		userID := users[i%len(users)]
		g.Go(func() error {
			started, ride, err := s.ride(gctx, userID, lots, sim)
			mu.Lock()
			defer mu.Unlock()
			if started {
				report.Started++
			}
			switch {
			case service.IsValidation(err), errors.Is(err, service.ErrBusy), errors.Is(err, errNoVehicle):
				report.Rejected++
				return nil
			case err != nil:
				return err
			}
			report.Ended++
			report.Revenue = report.Revenue.Add(ride.Cost)
			if ride.MaintenanceReportID != "" {
				report.Maintenance++
			}
			return nil
		})
	}
	err := g.Wait()

	report.Elapsed = time.Since(begin)
	return report, err
}

var errNoVehicle = errors.New("no vehicle available")

func (s *Server) ride(ctx context.Context, userID string, lots []string, sim Simulation) (bool, *model.Ride, error) {
	vehicleID, err := s.pickVehicle(ctx)
	if err != nil {
		return false, nil, err
	}

	ride, err := s.orchestrator.StartRide(ctx, userID, vehicleID)
	if err != nil {
		return false, nil, err
	}

	select {
	case <-ctx.Done():
		return true, nil, ctx.Err()
	case <-time.After(sim.RideTime):
	}

	req := service.EndRideRequest{
		RideID:           ride.ID,
		DestinationLotID: lots[rand.IntN(len(lots))],
	}
	if rand.Float64() < sim.MaintenanceRate {
		req.Maintenance = true
		req.Note = "rider reported a problem"
	}
	ride, err = s.orchestrator.EndRide(ctx, req)
	return true, ride, err
}

func (s *Server) pickVehicle(ctx context.Context) (string, error) {
	vehicles, err := s.store.Vehicles().List(ctx)
	if err != nil {
		return "", err
	}

	var available []string
	for _, v := range vehicles {
		if v.Status == model.VehicleAvailable {
			available = append(available, v.ID)
		}
	}
	if len(available) == 0 {
		return "", errNoVehicle
	}
	return available[rand.IntN(len(available))], nil
}

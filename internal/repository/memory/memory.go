// Package memory is an in-process implementation of the orchestrator
// repositories. Records are copied on the way in and out.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/autopeer-io/velopark/internal/core"
	"github.com/autopeer-io/velopark/internal/core/model"
)

var _ core.Repository = (*Store)(nil)

// Store holds every record behind one lock.
type Store struct {
	mu          sync.RWMutex
	vehicles    map[string]model.Vehicle
	rides       map[string]model.Ride
	users       map[string]model.User
	lots        map[string]model.ParkingLot
	maintenance map[string]model.MaintenanceReport
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		vehicles:    make(map[string]model.Vehicle),
		rides:       make(map[string]model.Ride),
		users:       make(map[string]model.User),
		lots:        make(map[string]model.ParkingLot),
		maintenance: make(map[string]model.MaintenanceReport),
	}
}

func (s *Store) Vehicles() core.VehicleRepository        { return vehicleRepo{s} }
func (s *Store) Rides() core.RideRepository              { return rideRepo{s} }
func (s *Store) Users() core.UserRepository              { return userRepo{s} }
func (s *Store) Lots() core.LotRepository                { return lotRepo{s} }
func (s *Store) Maintenance() core.MaintenanceRepository { return maintenanceRepo{s} }

// PutVehicle inserts or replaces a vehicle.
func (s *Store) PutVehicle(v *model.Vehicle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles[v.ID] = copyVehicle(v)
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = *u
}

// PutLot inserts or replaces a parking lot.
func (s *Store) PutLot(l *model.ParkingLot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lots[l.ID] = *l
}

func copyVehicle(v *model.Vehicle) model.Vehicle {
	c := *v
	if v.Battery != nil {
		level := *v.Battery
		c.Battery = &level
	}
	return c
}

func copyRide(r *model.Ride) model.Ride {
	c := *r
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	if r.EcoPoints != nil {
		p := *r.EcoPoints
		c.EcoPoints = &p
	}
	return c
}

type vehicleRepo struct{ s *Store }

func (r vehicleRepo) Get(ctx context.Context, id string) (*model.Vehicle, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("vehicle %s: %w", id, core.ErrNotFound)
	}
	c := copyVehicle(&v)
	return &c, nil
}

func (r vehicleRepo) List(ctx context.Context) ([]*model.Vehicle, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*model.Vehicle, 0, len(r.s.vehicles))
	for _, v := range r.s.vehicles {
		c := copyVehicle(&v)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r vehicleRepo) Update(ctx context.Context, v *model.Vehicle) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.vehicles[v.ID]; !ok {
		return fmt.Errorf("vehicle %s: %w", v.ID, core.ErrNotFound)
	}
	r.s.vehicles[v.ID] = copyVehicle(v)
	return nil
}

type rideRepo struct{ s *Store }

func (r rideRepo) Get(ctx context.Context, id string) (*model.Ride, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ride, ok := r.s.rides[id]
	if !ok {
		return nil, fmt.Errorf("ride %s: %w", id, core.ErrNotFound)
	}
	c := copyRide(&ride)
	return &c, nil
}

func (r rideRepo) Create(ctx context.Context, ride *model.Ride) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.rides[ride.ID]; ok {
		return fmt.Errorf("ride %s already exists", ride.ID)
	}
	r.s.rides[ride.ID] = copyRide(ride)
	return nil
}

func (r rideRepo) Update(ctx context.Context, ride *model.Ride) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.rides[ride.ID]; !ok {
		return fmt.Errorf("ride %s: %w", ride.ID, core.ErrNotFound)
	}
	r.s.rides[ride.ID] = copyRide(ride)
	return nil
}

func (r rideRepo) active(match func(*model.Ride) bool) (*model.Ride, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, ride := range r.s.rides {
		if ride.Status == model.RideInProgress && match(&ride) {
			c := copyRide(&ride)
			return &c, nil
		}
	}
	return nil, core.ErrNotFound
}

func (r rideRepo) ActiveByUser(ctx context.Context, userID string) (*model.Ride, error) {
	return r.active(func(ride *model.Ride) bool { return ride.UserID == userID })
}

func (r rideRepo) ActiveByVehicle(ctx context.Context, vehicleID string) (*model.Ride, error) {
	return r.active(func(ride *model.Ride) bool { return ride.VehicleID == vehicleID })
}

type userRepo struct{ s *Store }

func (r userRepo) Get(ctx context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	return &u, nil
}

func (r userRepo) Update(ctx context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.ID]; !ok {
		return fmt.Errorf("user %s: %w", u.ID, core.ErrNotFound)
	}
	r.s.users[u.ID] = *u
	return nil
}

type lotRepo struct{ s *Store }

func (r lotRepo) Get(ctx context.Context, id string) (*model.ParkingLot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.lots[id]
	if !ok {
		return nil, fmt.Errorf("lot %s: %w", id, core.ErrNotFound)
	}
	return &l, nil
}

type maintenanceRepo struct{ s *Store }

func (r maintenanceRepo) Create(ctx context.Context, report *model.MaintenanceReport) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.maintenance[report.ID] = *report
	return nil
}

func (r maintenanceRepo) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.maintenance, id)
	return nil
}

func (r maintenanceRepo) Open(ctx context.Context, vehicleID string) ([]*model.MaintenanceReport, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*model.MaintenanceReport
	for _, report := range r.s.maintenance {
		if report.VehicleID == vehicleID && !report.Resolved {
			c := report
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

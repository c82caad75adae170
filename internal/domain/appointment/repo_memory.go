package appointment

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository. The slot index plays the role
// of the partial unique index in Postgres.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]*Appointment
	slotHolders  map[slotKey]uuid.UUID
}

type slotKey struct {
	doctorID string
	date     Date
	slot     string
}

func keyOf(a *Appointment) slotKey {
	return slotKey{doctorID: a.DoctorID, date: a.Date, slot: a.TimeSlot}
}

// NewMemoryRepository returns an empty store, optionally seeded.
func NewMemoryRepository(seed ...*Appointment) *MemoryRepository {
	r := &MemoryRepository{
		appointments: make(map[uuid.UUID]*Appointment),
		slotHolders:  make(map[slotKey]uuid.UUID),
	}
	for _, a := range seed {
		cp := a.clone()
		r.appointments[cp.ID] = cp
		if cp.Status.HoldsSlot() {
			r.slotHolders[keyOf(cp)] = cp.ID
		}
	}
	return r
}

func (r *MemoryRepository) Insert(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := keyOf(a)
	if a.Status.HoldsSlot() {
		if _, taken := r.slotHolders[k]; taken {
			return nil, slotConflictError(a.DoctorID, a.Date, a.TimeSlot)
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := a.clone()
	r.appointments[cp.ID] = cp
	if cp.Status.HoldsSlot() {
		r.slotHolders[k] = cp.ID
	}
	return cp.clone(), nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, notFoundError("appointment", id.String())
	}
	return a.clone(), nil
}

func (r *MemoryRepository) FindByDoctorAndDate(_ context.Context, doctorID string, date Date) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Date == date {
			out = append(out, a.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeSlot != out[j].TimeSlot {
			return out[i].TimeSlot < out[j].TimeSlot
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	out := make([]*Appointment, 0, end-offset)
	for _, a := range all[offset:end] {
		out = append(out, a.clone())
	}
	return out, total, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, ch StatusChange) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, notFoundError("appointment", id.String())
	}
	if a.Status != ch.From {
		return nil, invalidTransitionError(a.Status, ch.To)
	}
	held := a.Status.HoldsSlot()
	ch.apply(a)
	if held && !a.Status.HoldsSlot() {
		k := keyOf(a)
		if r.slotHolders[k] == a.ID {
			delete(r.slotHolders, k)
		}
	}
	return a.clone(), nil
}

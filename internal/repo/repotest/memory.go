// Package repotest provides in-memory repositories for unit tests.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"subscription-checkout/internal/domain"

	"github.com/google/uuid"
)

type Users struct {
	mu    sync.RWMutex
	users map[int64]domain.User
}

func NewUsers(users ...domain.User) *Users {
	m := make(map[int64]domain.User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return &Users{users: m}
}

func (r *Users) FindById(_ context.Context, id int64) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

type Products struct {
	mu       sync.RWMutex
	products map[int64]domain.Product
}

func NewProducts(products ...domain.Product) *Products {
	m := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &Products{products: m}
}

func (r *Products) FindById(_ context.Context, id int64) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type Payments struct {
	mu       sync.RWMutex
	payments map[string]domain.Payment
	// Err, when set, is returned by CreatePayment.
	Err error
}

func NewPayments(payments ...domain.Payment) *Payments {
	m := make(map[string]domain.Payment, len(payments))
	for _, p := range payments {
		m[p.ID] = p
	}
	return &Payments{payments: m}
}

func (r *Payments) CreatePayment(_ context.Context, p *domain.Payment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	if _, ok := r.payments[p.ID]; ok {
		return false, nil
	}
	r.payments[p.ID] = *p
	return true, nil
}

func (r *Payments) FindById(_ context.Context, id string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *Payments) All() []domain.Payment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Payment, 0, len(r.payments))
	for _, p := range r.payments {
		out = append(out, p)
	}
	return out
}

// Jobs mirrors the SQL semantics of repo.JobRepo.
type Jobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
}

func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[uuid.UUID]*domain.Job)}
}

func (r *Jobs) Insert(_ context.Context, job *domain.Job) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.PaymentID == job.PaymentID && j.Kind == job.Kind {
			return false, nil
		}
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return true, nil
}

func (r *Jobs) FindById(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (r *Jobs) ListPending(_ context.Context) ([]domain.Job, error) {
	return r.filter(func(j *domain.Job) bool { return j.Status == domain.JobPending }, 0), nil
}

func (r *Jobs) Claim(_ context.Context, id uuid.UUID, now time.Time) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != domain.JobPending || j.DueAt.After(now) {
		return nil, nil
	}
	j.Status = domain.JobRunning
	j.Attempts++
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

func (r *Jobs) MarkDone(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(j *domain.Job) {
		j.Status = domain.JobDone
		j.LastError = ""
	})
}

func (r *Jobs) Reschedule(_ context.Context, id uuid.UUID, dueAt time.Time, lastErr string) error {
	return r.update(id, func(j *domain.Job) {
		if j.Status != domain.JobRunning {
			return
		}
		j.Status = domain.JobPending
		j.DueAt = dueAt
		j.LastError = lastErr
	})
}

func (r *Jobs) MarkAbandoned(_ context.Context, id uuid.UUID, lastErr string) (bool, error) {
	abandoned := false
	err := r.update(id, func(j *domain.Job) {
		if j.Status != domain.JobRunning {
			return
		}
		j.Status = domain.JobAbandoned
		j.LastError = lastErr
		abandoned = true
	})
	return abandoned, err
}

func (r *Jobs) FindOverdue(_ context.Context, before time.Time, limit int) ([]domain.Job, error) {
	return r.filter(func(j *domain.Job) bool {
		return j.Status == domain.JobPending && j.DueAt.Before(before)
	}, limit), nil
}

func (r *Jobs) FindStuckRunning(_ context.Context, before time.Time, limit int) ([]domain.Job, error) {
	return r.filter(func(j *domain.Job) bool {
		return j.Status == domain.JobRunning && j.UpdatedAt.Before(before)
	}, limit), nil
}

// All returns every job ordered by due time.
func (r *Jobs) All() []domain.Job {
	return r.filter(func(*domain.Job) bool { return true }, 0)
}

// Put stores job as is, bypassing the uniqueness check.
func (r *Jobs) Put(job domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = &job
}

func (r *Jobs) update(id uuid.UUID, fn func(j *domain.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		fn(j)
		j.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *Jobs) filter(keep func(j *domain.Job) bool, limit int) []domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, j := range r.jobs {
		if keep(j) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].DueAt.Before(out[b].DueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

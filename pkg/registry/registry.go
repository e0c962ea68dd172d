package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/fedrun/participant"
	pkgerrors "github.com/absmach/fedrun/pkg/errors"
	"github.com/absmach/fedrun/pkg/usage"
)

const aliveHistoryLimit = 10

var (
	ErrNotEnoughParticipants = errors.New("not enough participants available")
	ErrEmptyID               = errors.New("participant id is empty")
	ErrNilClient             = errors.New("participant client is nil")
)

type Participant struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	ConnectedAt  time.Time          `json:"connected_at"`
	Alive        bool               `json:"alive"`
	AliveHistory []time.Time        `json:"alive_history"`
	Usage        *usage.Usage       `json:"usage,omitempty"`
	Client       participant.Client `json:"-"`
}

type ParticipantPage struct {
	Total        uint64        `json:"total"`
	Available    uint64        `json:"available"`
	Participants []Participant `json:"participants"`
}

// Registry is the set of participants currently connected to the
// coordinator. All methods are safe for concurrent use.
type Registry struct {
	mu           sync.Mutex
	participants map[string]*Participant
	changed      chan struct{}
	aliveTimeout time.Duration
	namegen      namegenerator.NameGenerator
	logger       *slog.Logger
	now          func() time.Time
}

// New creates an empty registry. Participants that have not reported within
// aliveTimeout are not available for sampling; zero disables the check.
func New(aliveTimeout time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		participants: make(map[string]*Participant),
		changed:      make(chan struct{}),
		aliveTimeout: aliveTimeout,
		namegen:      namegenerator.NewGenerator(),
		logger:       logger,
		now:          time.Now,
	}
}

func (r *Registry) Register(ctx context.Context, id, name string, client participant.Client) error {
	if id == "" {
		return ErrEmptyID
	}
	if client == nil {
		return ErrNilClient
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(name) == "" {
		name = r.namegen.Generate()
	}

	now := r.now()
	p, ok := r.participants[id]
	if !ok {
		p = &Participant{ID: id, ConnectedAt: now}
		r.participants[id] = p
	}
	p.Name = name
	p.Client = client
	p.Alive = true
	p.AliveHistory = appendAlive(p.AliveHistory, now)
	r.notify()

	r.logger.InfoContext(ctx, "participant registered",
		slog.String("participant_id", id),
		slog.String("name", name),
		slog.Bool("reconnect", ok),
	)

	return nil
}

func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[id]; !ok {
		return fmt.Errorf("%w: participant %q", pkgerrors.ErrNotFound, id)
	}
	delete(r.participants, id)
	r.notify()

	r.logger.InfoContext(ctx, "participant unregistered", slog.String("participant_id", id))

	return nil
}

// MarkAlive records a liveness report. A nil u keeps the last reported usage.
func (r *Registry) MarkAlive(_ context.Context, id string, u *usage.Usage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return fmt.Errorf("%w: participant %q", pkgerrors.ErrNotFound, id)
	}
	p.Alive = true
	p.AliveHistory = appendAlive(p.AliveHistory, r.now())
	if u != nil {
		sample := *u
		p.Usage = &sample
	}
	r.notify()

	return nil
}

func (r *Registry) Get(id string) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return Participant{}, fmt.Errorf("%w: participant %q", pkgerrors.ErrNotFound, id)
	}
	r.setAlive(p)

	return snapshot(p), nil
}

// List returns every registered participant ordered by ID.
func (r *Registry) List() ParticipantPage {
	r.mu.Lock()
	defer r.mu.Unlock()

	page := ParticipantPage{Participants: make([]Participant, 0, len(r.participants))}
	for _, p := range r.participants {
		r.setAlive(p)
		if p.Alive {
			page.Available++
		}
		page.Participants = append(page.Participants, snapshot(p))
	}
	page.Total = uint64(len(page.Participants))
	sortByID(page.Participants)

	return page
}

func (r *Registry) NumAvailable() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.available())
}

// Available returns a copy of the live participants ordered by ID.
func (r *Registry) Available() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.available()
}

// WaitFor blocks until at least n participants are available and returns
// them. It fails with ErrNotEnoughParticipants once timeout elapses; a zero
// timeout waits for ctx only.
func (r *Registry) WaitFor(ctx context.Context, n int, timeout time.Duration) ([]Participant, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		r.mu.Lock()
		available := r.available()
		changed := r.changed
		r.mu.Unlock()

		if len(available) >= n {
			return available, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("%w: %d of %d after %s", ErrNotEnoughParticipants, len(available), n, timeout)
		case <-changed:
		}
	}
}

func (r *Registry) available() []Participant {
	ps := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		r.setAlive(p)
		if p.Alive {
			ps = append(ps, snapshot(p))
		}
	}
	sortByID(ps)

	return ps
}

func (r *Registry) setAlive(p *Participant) {
	if r.aliveTimeout <= 0 {
		p.Alive = true

		return
	}
	if len(p.AliveHistory) > 0 {
		lastAlive := p.AliveHistory[len(p.AliveHistory)-1]
		if r.now().Sub(lastAlive) <= r.aliveTimeout {
			p.Alive = true

			return
		}
	}
	p.Alive = false
}

// notify wakes every WaitFor caller. Callers must hold r.mu.
func (r *Registry) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func appendAlive(history []time.Time, t time.Time) []time.Time {
	history = append(history, t)
	if len(history) > aliveHistoryLimit {
		history = history[len(history)-aliveHistoryLimit:]
	}

	return history
}

func snapshot(p *Participant) Participant {
	cp := *p
	cp.AliveHistory = slices.Clone(p.AliveHistory)

	return cp
}

func sortByID(ps []Participant) {
	slices.SortFunc(ps, func(a, b Participant) int {
		return strings.Compare(a.ID, b.ID)
	})
}

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mood-pulse-backend/internal/config"
	"mood-pulse-backend/internal/models"
	"mood-pulse-backend/internal/proximity"
	"mood-pulse-backend/internal/ratelimit"
	"mood-pulse-backend/internal/repository"
	"mood-pulse-backend/internal/validation"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	created []models.PulseDTO
	deleted []string
}

func (b *recordingBroadcaster) PulseCreated(p models.PulseDTO) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, p)
}

func (b *recordingBroadcaster) PulseDeleted(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
}

type fixture struct {
	svc   *PulseService
	repo  *repository.MemoryRepository
	clock *fakeClock
	bc    *recordingBroadcaster
	cfg   *config.Config
}

func newFixture(t *testing.T, maxPerWindow int) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimit.Max = maxPerWindow
	cfg.RateLimit.SweepInterval = cfg.RateLimit.Window

	clock := newFakeClock()
	repo := repository.NewMemoryRepository()
	bc := &recordingBroadcaster{}
	limiter := ratelimit.New(ratelimit.Config{
		Window:        cfg.RateLimit.Window,
		Max:           cfg.RateLimit.Max,
		SweepInterval: cfg.RateLimit.SweepInterval,
	}, ratelimit.WithClock(clock.Now))

	svc := NewPulseService(repo, validation.New(cfg.Pulses.MaxTextLength), limiter, bc, cfg, WithClock(clock.Now))
	return &fixture{svc: svc, repo: repo, clock: clock, bc: bc, cfg: cfg}
}

func validRaw() validation.RawPulse {
	return validation.RawPulse{
		Lat:    40.7128,
		Lng:    -74.006,
		Mood:   "Calm",
		Energy: 3,
		Text:   "  quiet morning  ",
	}
}

func TestPulseService_Create(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, "10.0.0.1", validRaw())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	p := created.Pulse
	if p.ID == "" || created.DeleteToken == "" {
		t.Fatal("missing id or delete token")
	}
	if !p.CreatedAt.Equal(f.clock.Now()) {
		t.Errorf("CreatedAt = %s, want %s", p.CreatedAt, f.clock.Now())
	}
	if got := p.ExpiresAt.Sub(p.CreatedAt); got != f.cfg.Pulses.RetentionWindow {
		t.Errorf("ExpiresAt - CreatedAt = %s, want %s", got, f.cfg.Pulses.RetentionWindow)
	}
	if p.Mood != models.MoodCalm {
		t.Errorf("Mood = %q, want calm", p.Mood)
	}
	if p.Text == nil || *p.Text != "quiet morning" {
		t.Errorf("Text = %v, want trimmed note", p.Text)
	}
	if !p.AllowConnect {
		t.Error("AllowConnect should default to true")
	}
	if f.repo.Len() != 1 {
		t.Errorf("stored %d pulses, want 1", f.repo.Len())
	}
	if len(f.bc.created) != 1 || f.bc.created[0].ID != p.ID {
		t.Errorf("broadcast = %+v, want the created pulse once", f.bc.created)
	}
}

func TestPulseService_CreateRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*validation.RawPulse)
		field  string
	}{
		{"lat 91", func(r *validation.RawPulse) { r.Lat = 91 }, "lat"},
		{"lng 200", func(r *validation.RawPulse) { r.Lng = 200 }, "lng"},
		{"mood invalid", func(r *validation.RawPulse) { r.Mood = "invalid" }, "mood"},
		{"energy 0", func(r *validation.RawPulse) { r.Energy = 0 }, "energy"},
		{"energy 6", func(r *validation.RawPulse) { r.Energy = 6 }, "energy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5)
			raw := validRaw()
			tt.mutate(&raw)

			_, err := f.svc.Create(context.Background(), "10.0.0.1", raw)
			var verrs *validation.Errors
			if !errors.As(err, &verrs) {
				t.Fatalf("got %v, want *validation.Errors", err)
			}
			if !verrs.Has(tt.field) {
				t.Errorf("errors %v do not name %q", verrs.Fields, tt.field)
			}
			if f.repo.Len() != 0 {
				t.Error("invalid submission was persisted")
			}
			if len(f.bc.created) != 0 {
				t.Error("invalid submission was broadcast")
			}
		})
	}
}

func TestPulseService_RateLimit(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	var ok, limited int
	for i := 0; i < 4; i++ {
		_, err := f.svc.Create(ctx, "10.0.0.1", validRaw())
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrRateLimited):
			limited++
			var rl *RateLimitedError
			if !errors.As(err, &rl) || rl.RetryAfter <= 0 {
				t.Errorf("rate limit error lacks retry hint: %v", err)
			}
		default:
			t.Fatalf("unexpected error: %v", err)
		}
		f.clock.Advance(time.Second)
	}
	if ok != 3 || limited != 1 {
		t.Fatalf("ok=%d limited=%d, want 3 and 1", ok, limited)
	}

	if _, err := f.svc.Create(ctx, "10.0.0.2", validRaw()); err != nil {
		t.Errorf("other source should be unaffected: %v", err)
	}

	f.clock.Advance(time.Minute)
	if _, err := f.svc.Create(ctx, "10.0.0.1", validRaw()); err != nil {
		t.Errorf("submission after the window should succeed: %v", err)
	}
}

func TestPulseService_InvalidDoesNotConsumeBudget(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	bad := validRaw()
	bad.Lat = 91
	for i := 0; i < 3; i++ {
		if _, err := f.svc.Create(ctx, "10.0.0.1", bad); errors.Is(err, ErrRateLimited) {
			t.Fatal("validation failure was rate limited")
		}
	}
	if _, err := f.svc.Create(ctx, "10.0.0.1", validRaw()); err != nil {
		t.Errorf("first valid submission rejected: %v", err)
	}
}

func TestPulseService_QueryRoundTrip(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, "10.0.0.1", validRaw())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.clock.Advance(time.Hour)

	res, err := f.svc.Query(ctx, models.PulseQuery{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Count != 1 || res.HasMore {
		t.Fatalf("Count=%d HasMore=%v, want 1 and false", res.Count, res.HasMore)
	}
	got := res.Pulses[0]
	want := created.Pulse
	if got.ID != want.ID || got.Lat != want.Lat || got.Lng != want.Lng ||
		got.Mood != want.Mood || got.Energy != want.Energy || *got.Text != *want.Text {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
	if res.Limit != f.cfg.Pulses.DefaultPageSize {
		t.Errorf("Limit = %d, want default %d", res.Limit, f.cfg.Pulses.DefaultPageSize)
	}
}

func TestPulseService_QueryHidesExpired(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, "10.0.0.1", validRaw()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.clock.Advance(f.cfg.Pulses.RetentionWindow)

	res, err := f.svc.Query(ctx, models.PulseQuery{Window: 48 * time.Hour})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Count != 0 {
		t.Errorf("pulse at its expiry instant is still visible")
	}
}

func TestPulseService_QueryPaging(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.svc.Create(ctx, "10.0.0.1", validRaw()); err != nil {
			t.Fatalf("Create: %v", err)
		}
		f.clock.Advance(time.Second)
	}

	tests := []struct {
		name        string
		q           models.PulseQuery
		wantCount   int
		wantHasMore bool
		wantLimit   int
	}{
		{"first page", models.PulseQuery{Limit: 2}, 2, true, 2},
		{"last page", models.PulseQuery{Limit: 2, Offset: 4}, 1, false, 2},
		{"exact fit", models.PulseQuery{Limit: 5}, 5, false, 5},
		{"limit clamped", models.PulseQuery{Limit: 1_000_000}, 5, false, f.cfg.Pulses.MaxPageSize},
		{"negative offset", models.PulseQuery{Limit: 10, Offset: -3}, 5, false, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.Query(ctx, tt.q)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if res.Count != tt.wantCount || res.HasMore != tt.wantHasMore || res.Limit != tt.wantLimit {
				t.Errorf("got count=%d has_more=%v limit=%d, want %d %v %d",
					res.Count, res.HasMore, res.Limit, tt.wantCount, tt.wantHasMore, tt.wantLimit)
			}
		})
	}
}

func TestPulseService_DeleteAuthorization(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, "10.0.0.1", validRaw())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := created.Pulse.ID

	if err := f.svc.Delete(ctx, id, "not-the-token"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("wrong token: got %v, want ErrForbidden", err)
	}
	res, _ := f.svc.Query(ctx, models.PulseQuery{})
	if res.Count != 1 {
		t.Fatal("pulse not queryable after a rejected delete")
	}

	if err := f.svc.Delete(ctx, id, created.DeleteToken); err != nil {
		t.Fatalf("correct token: %v", err)
	}
	if err := f.svc.Delete(ctx, id, created.DeleteToken); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
	if len(f.bc.deleted) != 1 || f.bc.deleted[0] != id {
		t.Errorf("delete broadcasts = %v, want exactly [%s]", f.bc.deleted, id)
	}
}

func TestPulseService_DeleteExpiredIdempotent(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Create(ctx, "10.0.0.1", validRaw()); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	f.clock.Advance(f.cfg.Pulses.RetentionWindow)

	first, err := f.svc.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	second, err := f.svc.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if first != 2 || second != 0 {
		t.Errorf("removed %d then %d, want 2 then 0", first, second)
	}
}

func TestPulseService_Graph(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	points := []struct{ lat, lng float64 }{{0, 0}, {0, 0.01}, {10, 10}}
	ids := make([]string, len(points))
	for i, pt := range points {
		raw := validRaw()
		raw.Lat, raw.Lng = pt.lat, pt.lng
		created, err := f.svc.Create(ctx, "10.0.0.1", raw)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids[i] = created.Pulse.ID
	}

	res, err := f.svc.Graph(ctx, GraphQuery{RadiusKm: 5})
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	if len(res.Pulses) != 3 {
		t.Errorf("graph carried %d pulses, want 3", len(res.Pulses))
	}
	if len(res.Edges) != 1 {
		t.Fatalf("edges = %+v, want exactly one", res.Edges)
	}
	e := res.Edges[0]
	a, b := ids[0], ids[1]
	if a > b {
		a, b = b, a
	}
	if e.From != a || e.To != b {
		t.Errorf("edge = %s-%s, want %s-%s", e.From, e.To, a, b)
	}
	if res.GroupBy != string(proximity.GroupByMood) {
		t.Errorf("GroupBy = %q, want mood", res.GroupBy)
	}
}

func TestPulseService_GraphRadiusBounds(t *testing.T) {
	f := newFixture(t, 5)

	tests := []struct {
		name   string
		radius float64
		want   float64
	}{
		{"default", 0, f.cfg.Proximity.DefaultRadiusKm},
		{"within bounds", 12.5, 12.5},
		{"clamped", 10_000, f.cfg.Proximity.MaxRadiusKm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.Graph(context.Background(), GraphQuery{RadiusKm: tt.radius})
			if err != nil {
				t.Fatalf("Graph: %v", err)
			}
			if res.RadiusKm != tt.want {
				t.Errorf("RadiusKm = %v, want %v", res.RadiusKm, tt.want)
			}
			if res.Edges == nil {
				t.Error("Edges should be an empty slice, not nil")
			}
		})
	}
}

type failingStore struct{}

var errDown = errors.New("connection refused")

func (failingStore) Create(context.Context, *models.Pulse) error { return errDown }
func (failingStore) Query(context.Context, repository.Filter) ([]models.Pulse, error) {
	return nil, errDown
}
func (failingStore) DeleteWithToken(context.Context, string, string, time.Time) error {
	return errDown
}
func (failingStore) DeleteExpired(context.Context, time.Time, time.Time) (int64, error) {
	return 0, errDown
}
func (failingStore) Ping(context.Context) error { return errDown }

func TestPulseService_StoreFaultsAreOpaque(t *testing.T) {
	cfg := config.Default()
	limiter := ratelimit.New(ratelimit.Config{Window: time.Minute, Max: 5})
	bc := &recordingBroadcaster{}
	svc := NewPulseService(failingStore{}, validation.New(280), limiter, bc, cfg)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "10.0.0.1", validRaw()); !errors.Is(err, ErrStore) || errors.Is(err, errDown) {
		t.Errorf("Create: got %v, want opaque ErrStore", err)
	}
	if _, err := svc.Query(ctx, models.PulseQuery{}); !errors.Is(err, ErrStore) {
		t.Errorf("Query: got %v, want ErrStore", err)
	}
	if _, err := svc.Graph(ctx, GraphQuery{}); !errors.Is(err, ErrStore) {
		t.Errorf("Graph: got %v, want ErrStore", err)
	}
	if err := svc.Delete(ctx, "id", "token"); !errors.Is(err, ErrStore) {
		t.Errorf("Delete: got %v, want ErrStore", err)
	}
	if len(bc.created) != 0 {
		t.Error("failed create was broadcast")
	}
}

func TestPulseService_NilBroadcaster(t *testing.T) {
	cfg := config.Default()
	limiter := ratelimit.New(ratelimit.Config{Window: time.Minute, Max: 5})
	svc := NewPulseService(repository.NewMemoryRepository(), validation.New(280), limiter, nil, cfg)

	created, err := svc.Create(context.Background(), "10.0.0.1", validRaw())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(context.Background(), created.Pulse.ID, created.DeleteToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

package indexclient

import (
	"context"
	"sync"
)

// Fake is an in-memory Client: PublishSummaries just appends every summary
// it is given, and RequestRoute answers from a table the
// test sets up ahead of time with Seed.
type Fake struct {
	mu        sync.Mutex
	summaries []CapacitySummary
	routes    map[string]RouteReply
}

// NewFake constructs an empty Fake index client.
func NewFake() *Fake {
	return &Fake{routes: make(map[string]RouteReply)}
}

// Seed registers the reply RequestRoute should return for dest/cur.
func (f *Fake) Seed(dest []byte, cur string, reply RouteReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[string(dest)+"/"+cur] = reply
}

// Summaries returns every summary published so far.
func (f *Fake) Summaries() []CapacitySummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CapacitySummary, len(f.summaries))
	copy(out, f.summaries)
	return out
}

func (f *Fake) PublishSummaries(ctx context.Context, summaries []CapacitySummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summaries...)
	return nil
}

func (f *Fake) RequestRoute(ctx context.Context, req RouteRequest) (RouteReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reply, ok := f.routes[string(req.Dest)+"/"+req.Currency.String()]
	if !ok {
		return RouteReply{}, nil
	}
	return reply, nil
}

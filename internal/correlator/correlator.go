package correlator

import (
	"sync"
	"time"

	"github.com/sweeney/callpop/internal/pbx"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// entityRef remembers which call an entity belonged to, so that a remove
// event whose detail is already gone still resolves its call id.
type entityRef struct {
	callID         string
	partyExtension string
	seenAt         time.Time
}

// Correlator owns the live call sessions and applies Decide to each
// transition in stream order.
type Correlator struct {
	mu       sync.Mutex
	sessions map[string]*Session // keyed by call id
	entities map[string]entityRef
	rules    Rules
	maxAge   time.Duration
	clock    Clock
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithClock sets the time source for the correlator.
func WithClock(c Clock) Option {
	return func(corr *Correlator) { corr.clock = c }
}

// WithMaxAge sets how long a session may live before Sweep reaps it.
func WithMaxAge(d time.Duration) Option {
	return func(corr *Correlator) { corr.maxAge = d }
}

// New creates a Correlator.
func New(rules Rules, opts ...Option) *Correlator {
	c := &Correlator{
		sessions: make(map[string]*Session),
		entities: make(map[string]entityRef),
		rules:    rules,
		maxAge:   4 * time.Hour,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Input builds a correlator Input from a stream event and its detail,
// which may be nil when the lookup failed.
func (c *Correlator) Input(evt pbx.Event, d *pbx.Detail) Input {
	in := Input{
		Entity:    evt.Entity,
		Extension: evt.Extension(),
		At:        c.clock(),
	}
	if d != nil {
		in.CallID = string(d.CallID)
		in.CallerNumber = d.CallerNumber
		in.CallerName = d.CallerName
		in.PartyExtension = d.PartyExtension
	}

	switch evt.Type {
	case pbx.EventRemove:
		in.Kind = KindEnded
	case pbx.EventUpsert:
		if d == nil {
			in.Kind = KindOther
			break
		}
		switch d.Status {
		case pbx.StatusRinging:
			in.Kind = KindRinging
		case pbx.StatusConnected:
			in.Kind = KindConnected
		}
	}
	return in
}

// Process applies one transition and returns the resulting action.
// connected reports whether an operator identity has a live session.
func (c *Correlator) Process(in Input, connected func(string) bool) Action {
	c.mu.Lock()
	defer c.mu.Unlock()

	if in.At.IsZero() {
		in.At = c.clock()
	}

	if in.Entity != "" {
		switch {
		case in.Kind == KindEnded:
			if ref, ok := c.entities[in.Entity]; ok {
				if in.CallID == "" {
					in.CallID = ref.callID
				}
				if in.PartyExtension == "" {
					in.PartyExtension = ref.partyExtension
				}
			}
			delete(c.entities, in.Entity)
		case in.CallID != "":
			c.entities[in.Entity] = entityRef{
				callID:         in.CallID,
				partyExtension: in.PartyExtension,
				seenAt:         in.At,
			}
		}
	}

	view := make(map[string]Session, len(c.sessions))
	for id, s := range c.sessions {
		view[id] = *s
	}

	d := Decide(in, view, connected, c.rules)
	if d.Put != nil {
		s := *d.Put
		c.sessions[s.CallID] = &s
	}
	if d.Remove != "" {
		delete(c.sessions, d.Remove)
	}
	return d.Action
}

// ActiveCalls returns the number of calls currently being tracked.
func (c *Correlator) ActiveCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Session returns a copy of the session for callID.
func (c *Correlator) Session(callID string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[callID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sessions returns copies of all live sessions.
func (c *Correlator) Sessions() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, *s)
	}
	return out
}

// Name identifies the correlator to the cache sweeper.
func (c *Correlator) Name() string { return "call-sessions" }

// Sweep reaps sessions and entity references older than the max age.
func (c *Correlator) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.clock().Add(-c.maxAge)
	removed := 0
	for id, s := range c.sessions {
		if s.CreatedAt.Before(cutoff) {
			delete(c.sessions, id)
			removed++
		}
	}
	for entity, ref := range c.entities {
		if ref.seenAt.Before(cutoff) {
			delete(c.entities, entity)
		}
	}
	return removed
}

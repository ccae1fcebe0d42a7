// Package bridge drives the call correlator and the customer-data
// pipeline from PBX stream messages and delivers the results to
// operators, the MQTT mirror and call history.
package bridge

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/callpop/internal/aggregate"
	"github.com/sweeney/callpop/internal/cache"
	"github.com/sweeney/callpop/internal/correlator"
	"github.com/sweeney/callpop/internal/history"
	"github.com/sweeney/callpop/internal/pbx"
)

// DetailLookup fetches the detail record for a PBX entity.
type DetailLookup interface {
	Lookup(ctx context.Context, entity string) (*pbx.Detail, error)
}

// Broadcaster delivers envelopes to connected operator sessions.
type Broadcaster interface {
	Broadcast(operator string, v any) int
	IsConnected(operator string) bool
}

// Pipeline runs the staged customer-data lookup for a call.
type Pipeline interface {
	Run(ctx context.Context, req aggregate.Request) <-chan aggregate.Update
}

// Mirror republishes envelopes outside the process.
type Mirror interface {
	Operator(ctx context.Context, operator, msgType string, payload []byte) error
}

// Clock provides the current time.
type Clock func() time.Time

// Deps are the collaborators a Bridge drives. Mirror may be nil.
type Deps struct {
	Detail     DetailLookup
	Correlator *correlator.Correlator
	Hub        Broadcaster
	Pipeline   Pipeline
	History    history.Store
	Mirror     Mirror
	// Ringing dedups pipeline triggers per operator and call id.
	Ringing *cache.Namespace[struct{}]
	// Saved maps call ids already persisted to their record id.
	Saved *cache.Namespace[string]
}

// Options configures a Bridge.
type Options struct {
	LegacyNotifications bool
	Clock               Clock
}

// Bridge turns stream messages into operator notifications.
type Bridge struct {
	Deps
	opts Options
	wg   sync.WaitGroup
}

// New creates a Bridge.
func New(deps Deps, opts Options) *Bridge {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Bridge{Deps: deps, opts: opts}
}

// Handle processes one accepted stream message. It returns once the
// correlator has applied the message; pipelines it starts keep running.
func (b *Bridge) Handle(ctx context.Context, msg pbx.Message) {
	evt := msg.Event
	logger := log.With().Int64("sequence", msg.Sequence).Str("entity", evt.Entity).Logger()

	if evt.Extension() == "" {
		logger.Warn().Msg("dropping event without extension")
		return
	}
	if evt.Type != pbx.EventUpsert && evt.Type != pbx.EventRemove {
		logger.Warn().Int("eventType", int(evt.Type)).Msg("dropping unknown event type")
		return
	}

	detail, err := b.Detail.Lookup(ctx, evt.Entity)
	if err != nil {
		// Remove events usually outlive their entity; the correlator
		// falls back to its own memory.
		if evt.Type == pbx.EventRemove {
			logger.Debug().Err(err).Msg("detail lookup failed")
		} else {
			logger.Warn().Err(err).Msg("detail lookup failed")
		}
		detail = nil
	}

	in := b.Correlator.Input(evt, detail)
	act := b.Correlator.Process(in, b.Hub.IsConnected)

	switch act.Type {
	case correlator.ActionRinging:
		b.startPipeline(ctx, act)
	case correlator.ActionTimerStarted:
		logger.Info().Str("callId", act.CallID).Str("operator", act.Operator).Msg("call timer started")
		b.send(ctx, act.Operator, TypeCallTimerStarted, CallTimerStarted{
			Header:    b.header(TypeCallTimerStarted),
			CallID:    act.CallID,
			Operator:  act.Operator,
			StartedAt: act.StartedAt.UTC().Format(time.RFC3339),
		})
	case correlator.ActionTimerEnded:
		logger.Info().Str("callId", act.CallID).Str("operator", act.Operator).Dur("duration", act.Duration).Msg("call timer ended")
		b.send(ctx, act.Operator, TypeCallTimerEnded, CallTimerEnded{
			Header:          b.header(TypeCallTimerEnded),
			CallID:          act.CallID,
			Operator:        act.Operator,
			DurationSeconds: int64(act.Duration.Round(time.Second) / time.Second),
		})
	case correlator.ActionCallEnded:
		logger.Info().Str("callId", act.CallID).Str("operator", act.Operator).Msg("call ended")
		b.send(ctx, act.Operator, TypeCallEnded, CallEnded{
			Header:   b.header(TypeCallEnded),
			CallID:   act.CallID,
			Operator: act.Operator,
		})
	case correlator.ActionSuppressed:
		logger.Debug().Str("callId", act.CallID).Str("operator", act.Operator).Msg("suppressed spurious end")
	default:
		logger.Debug().Str("reason", act.Reason).Msg("no action")
	}
}

// Wait blocks until every pipeline started so far has finished.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

func (b *Bridge) startPipeline(ctx context.Context, act correlator.Action) {
	key := act.Operator + "|" + act.CallID
	if !b.Ringing.SetIfAbsent(key, struct{}{}) {
		// Rolling window: each duplicate pushes expiry out again.
		b.Ringing.Set(key, struct{}{})
		log.Debug().Str("callId", act.CallID).Str("operator", act.Operator).Msg("duplicate ringing, pipeline already running")
		return
	}
	log.Info().Str("callId", act.CallID).Str("operator", act.Operator).Str("caller", act.CallerNumber).Msg("incoming call")

	updates := b.Pipeline.Run(ctx, aggregate.Request{
		CallID:       act.CallID,
		Operator:     act.Operator,
		CallerNumber: act.CallerNumber,
		CallerName:   act.CallerName,
	})

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for u := range updates {
			if u.Complete {
				b.complete(ctx, u)
				continue
			}
			b.send(ctx, u.Operator, TypeProgressiveUpdate, ProgressiveUpdate{
				Header:      b.header(TypeProgressiveUpdate),
				CallID:      u.CallID,
				Operator:    u.Operator,
				Stage:       u.Stage,
				PhoneNumber: u.PhoneNumber,
				CallerName:  u.CallerName,
				Data:        u.Aggregate,
				NotFound:    u.NotFound,
				Degraded:    u.Degraded,
				Final:       u.Final,
			})
		}
	}()
}

func (b *Bridge) complete(ctx context.Context, u aggregate.Update) {
	b.send(ctx, u.Operator, TypeCompleteCustomerData, CompleteCustomerData{
		Header:      b.header(TypeCompleteCustomerData),
		CallID:      u.CallID,
		Operator:    u.Operator,
		PhoneNumber: u.PhoneNumber,
		Cached:      u.Cached,
		Data:        u.Data,
	})
	if b.opts.LegacyNotifications {
		b.send(ctx, u.Operator, TypeCallNotification, CallNotification{
			Header:       b.header(TypeCallNotification),
			CallID:       u.CallID,
			Operator:     u.Operator,
			PhoneNumber:  u.PhoneNumber,
			CallerName:   u.CallerName,
			CustomerData: u.Data,
		})
	}
	b.save(ctx, u)
}

// save persists the finished call once per call id.
func (b *Bridge) save(ctx context.Context, u aggregate.Update) {
	id := uuid.NewString()
	if !b.Saved.SetIfAbsent(u.CallID, id) {
		log.Debug().Str("callId", u.CallID).Msg("call already saved")
		return
	}
	inserted, err := b.History.Insert(ctx, history.Record{
		ID:          id,
		CallID:      u.CallID,
		Operator:    u.Operator,
		PhoneNumber: u.PhoneNumber,
		CallerName:  u.CallerName,
		Cached:      u.Cached,
		Data:        u.Data,
		CreatedAt:   b.opts.Clock(),
	})
	if err != nil {
		b.Saved.Delete(u.CallID)
		log.Error().Err(err).Str("callId", u.CallID).Msg("saving call")
		return
	}
	if !inserted {
		log.Debug().Str("callId", u.CallID).Msg("call already in history")
		return
	}
	log.Info().Str("callId", u.CallID).Str("operator", u.Operator).Str("record", id).Bool("cached", u.Cached).Msg("call saved")
}

func (b *Bridge) header(msgType string) Header {
	return Header{Type: msgType, Timestamp: b.opts.Clock().UTC().Format(time.RFC3339)}
}

// send encodes v once and delivers it to the operator's sessions and
// the mirror.
func (b *Bridge) send(ctx context.Context, operator, msgType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("encoding envelope")
		return
	}
	n := b.Hub.Broadcast(operator, json.RawMessage(data))
	log.Debug().Str("operator", operator).Str("type", msgType).Int("sessions", n).Msg("broadcast")

	if b.Mirror != nil {
		if err := b.Mirror.Operator(ctx, operator, msgType, data); err != nil {
			log.Warn().Err(err).Str("operator", operator).Str("type", msgType).Msg("mirror publish failed")
		}
	}
}

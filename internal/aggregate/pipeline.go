package aggregate

import (
	"context"
	"errors"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/callpop/internal/cache"
	"github.com/sweeney/callpop/internal/crm"
)

// Contacts is the primary CRM/DMS provider.
type Contacts interface {
	ContactsByPhone(ctx context.Context, phone string) ([]crm.Contact, error)
	Leads(ctx context.Context, contactID string) ([]crm.Lead, error)
	SalesTeam(ctx context.Context, contactID string) (*crm.SalesTeam, error)
	VehiclesOfInterest(ctx context.Context, leadID string) ([]crm.Vehicle, error)
	TradeVehicles(ctx context.Context, leadID string) ([]crm.Vehicle, error)
	LeadSource(ctx context.Context, leadID string) (*crm.LeadSource, error)
}

// Service is the parts/service provider.
type Service interface {
	ServiceProfile(ctx context.Context, phone string) (*crm.ServiceProfile, error)
}

// Request identifies the call a pipeline run is for.
type Request struct {
	CallID       string
	Operator     string
	CallerNumber string
	CallerName   string
}

// Update is one stage emission for a call. The last update on a run's
// channel has Final set. A Complete update carries the finished
// aggregate encoded in Data, byte-identical to the cached copy.
// Degraded marks a run stopped by a provider failure rather than by an
// empty result; such an update never has NotFound set.
type Update struct {
	CallID      string
	Operator    string
	PhoneNumber string
	CallerName  string
	Stage       int
	Aggregate   Aggregate
	NotFound    bool
	Degraded    bool
	Complete    bool
	Cached      bool
	Final       bool
	Data        []byte
}

// Options configures a Pipeline.
type Options struct {
	// TestMode replaces every caller number with TestPhoneNumber.
	TestMode        bool
	TestPhoneNumber string
	// Concurrency caps in-flight sub-fetches per stage. Zero means 8.
	Concurrency int
}

// Pipeline runs the staged lookup for ringing calls.
type Pipeline struct {
	contacts  Contacts
	service   Service
	customers *cache.Namespace[[]byte]
	opts      Options
}

// New creates a Pipeline. service may be nil when no parts/service
// provider is configured. customers caches finished aggregates by
// normalized phone number.
func New(contacts Contacts, service Service, customers *cache.Namespace[[]byte], opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Pipeline{
		contacts:  contacts,
		service:   service,
		customers: customers,
		opts:      opts,
	}
}

// Run starts the pipeline for req and returns the channel its stage
// updates arrive on. Updates are sent in increasing stage order and the
// channel is closed after the Final update. The caller must drain it.
func (p *Pipeline) Run(ctx context.Context, req Request) <-chan Update {
	out := make(chan Update, StageDetail+1)
	go func() {
		defer close(out)
		p.run(ctx, req, out)
	}()
	return out
}

func (p *Pipeline) run(ctx context.Context, req Request, out chan<- Update) {
	phone := req.CallerNumber
	if p.opts.TestMode {
		phone = p.opts.TestPhoneNumber
	}
	phone = NormalizePhone(phone)

	logger := log.With().Str("callId", req.CallID).Str("operator", req.Operator).Str("phone", phone).Logger()

	emit := func(u Update) {
		u.CallID = req.CallID
		u.Operator = req.Operator
		u.PhoneNumber = phone
		u.CallerName = req.CallerName
		out <- u
	}

	agg := Aggregate{Stage: StagePhone, PhoneNumber: phone}

	emit(Update{Stage: StagePhone, Aggregate: agg})

	if phone == "" {
		logger.Debug().Msg("no caller number, skipping lookup")
		emit(Update{Stage: StageContacts, Aggregate: Merge(agg, Aggregate{Stage: StageContacts}), NotFound: true, Final: true})
		return
	}

	if data, ok := p.customers.Get(phone); ok {
		var cached Aggregate
		err := json.Unmarshal(data, &cached)
		if err == nil {
			logger.Debug().Msg("customer cache hit")
			emit(Update{Stage: StageDetail, Aggregate: cached, Complete: true, Cached: true, Final: true, Data: data})
			return
		}
		logger.Warn().Err(err).Msg("discarding undecodable cached aggregate")
		p.customers.Delete(phone)
	}

	// The secondary provider runs alongside the primary stages. Stage 4
	// includes it only if it has already answered.
	serviceDone := make(chan *crm.ServiceProfile, 1)
	go func() {
		serviceDone <- p.lookupService(ctx, phone)
	}()

	contacts, err := p.contacts.ContactsByPhone(ctx, phone)
	if err != nil && !errors.Is(err, crm.ErrNotFound) {
		logger.Warn().Err(err).Int("stage", StageContacts).Msg("contact lookup failed")
		emit(Update{Stage: StageContacts, Aggregate: Merge(agg, Aggregate{Stage: StageContacts}), Degraded: true, Final: true})
		return
	}
	if len(contacts) == 0 {
		logger.Info().Msg("no customer found")
		emit(Update{Stage: StageContacts, Aggregate: Merge(agg, Aggregate{Stage: StageContacts}), NotFound: true, Final: true})
		return
	}
	agg = Merge(agg, Aggregate{
		Stage:          StageContacts,
		PrimaryContact: &contacts[0],
		Contacts:       contacts,
	})
	emit(Update{Stage: StageContacts, Aggregate: agg})

	leadsByContact := p.fetchLeads(ctx, contacts)
	summary := make([]LeadCount, len(contacts))
	for i, c := range contacts {
		summary[i] = LeadCount{ContactID: c.ID, Name: c.FullName(), LeadCount: len(leadsByContact[i])}
	}
	primaryLeads := leadsByContact[0]
	if primaryLeads == nil {
		primaryLeads = []crm.Lead{}
	}
	agg = Merge(agg, Aggregate{Stage: StageLeads, Leads: primaryLeads, LeadSummary: summary})
	emit(Update{Stage: StageLeads, Aggregate: agg})

	detail := p.fetchDetail(ctx, contacts, leadsByContact)
	detail.Stage = StageDetail
	agg = Merge(agg, detail)
	var svc *crm.ServiceProfile
	joined := false
	select {
	case svc = <-serviceDone:
		joined = true
	default:
	}
	agg = Merge(agg, Aggregate{Service: svc})
	emit(Update{Stage: StageDetail, Aggregate: agg})

	if !joined {
		select {
		case svc = <-serviceDone:
		case <-ctx.Done():
		}
		agg = Merge(agg, Aggregate{Service: svc})
	}

	data, err := json.Marshal(agg)
	if err != nil {
		logger.Error().Err(err).Msg("encoding aggregate")
		return
	}
	p.customers.Set(phone, data)
	emit(Update{Stage: StageDetail, Aggregate: agg, Complete: true, Final: true, Data: data})
}

// lookupService queries the secondary provider. Any failure, including
// its timeout, yields nil.
func (p *Pipeline) lookupService(ctx context.Context, phone string) *crm.ServiceProfile {
	if p.service == nil {
		return nil
	}
	profile, err := p.service.ServiceProfile(ctx, phone)
	if err != nil {
		if !errors.Is(err, crm.ErrNotFound) {
			log.Warn().Err(err).Str("phone", phone).Msg("service lookup failed")
		}
		return nil
	}
	return profile
}

// fetchLeads returns the leads of every contact, index-aligned with
// contacts. A failed fetch leaves that contact with no leads.
func (p *Pipeline) fetchLeads(ctx context.Context, contacts []crm.Contact) [][]crm.Lead {
	leads := make([][]crm.Lead, len(contacts))
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, c := range contacts {
		g.Go(func() error {
			got, err := p.contacts.Leads(ctx, c.ID)
			if err != nil {
				log.Warn().Err(err).Str("contact", c.ID).Int("stage", StageLeads).Msg("lead fetch failed")
				return nil
			}
			leads[i] = got
			return nil
		})
	}
	_ = g.Wait()
	return leads
}

// fetchDetail gathers every sub-fetch for every lead plus each contact's
// sales team. Each sub-fetch is independent; failures become empty values.
func (p *Pipeline) fetchDetail(ctx context.Context, contacts []crm.Contact, leadsByContact [][]crm.Lead) Aggregate {
	var leads []crm.Lead
	for _, ls := range leadsByContact {
		leads = append(leads, ls...)
	}

	details := make([]LeadDetail, len(leads))
	teams := make([]ContactTeam, len(contacts))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)

	warn := func(err error, what, id string) {
		log.Warn().Err(err).Str("id", id).Int("stage", StageDetail).Msgf("%s fetch failed", what)
	}

	for i, lead := range leads {
		details[i].Lead = lead
		g.Go(func() error {
			v, err := p.contacts.VehiclesOfInterest(ctx, lead.ID)
			if err != nil {
				warn(err, "vehicles", lead.ID)
			}
			complete, incomplete := SplitVehicles(v)
			details[i].VehiclesOfInterest, details[i].IncompleteVehicles = complete, incomplete
			return nil
		})
		g.Go(func() error {
			v, err := p.contacts.TradeVehicles(ctx, lead.ID)
			if err != nil {
				warn(err, "trade vehicles", lead.ID)
			}
			if v == nil {
				v = []crm.Vehicle{}
			}
			details[i].TradeVehicles = v
			return nil
		})
		g.Go(func() error {
			src, err := p.contacts.LeadSource(ctx, lead.ID)
			if err != nil {
				if !errors.Is(err, crm.ErrNotFound) {
					warn(err, "lead source", lead.ID)
				}
				src = nil
			}
			details[i].Source = src
			return nil
		})
	}
	for i, c := range contacts {
		teams[i].ContactID = c.ID
		g.Go(func() error {
			team, err := p.contacts.SalesTeam(ctx, c.ID)
			if err != nil {
				if !errors.Is(err, crm.ErrNotFound) {
					warn(err, "sales team", c.ID)
				}
				team = nil
			}
			teams[i].Team = team
			return nil
		})
	}
	_ = g.Wait()

	patch := Aggregate{
		LeadDetails:        details,
		SalesTeams:         teams,
		VehiclesOfInterest: []crm.Vehicle{},
		IncompleteVehicles: []crm.Vehicle{},
		TradeVehicles:      []crm.Vehicle{},
	}
	for _, d := range details {
		patch.VehiclesOfInterest = append(patch.VehiclesOfInterest, d.VehiclesOfInterest...)
		patch.IncompleteVehicles = append(patch.IncompleteVehicles, d.IncompleteVehicles...)
		patch.TradeVehicles = append(patch.TradeVehicles, d.TradeVehicles...)
	}
	if len(teams) > 0 {
		patch.Representative = teams[0].Team.PrimaryRep()
	}
	return patch
}

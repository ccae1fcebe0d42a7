package crm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCRMServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/contacts", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("phone") {
		case "5551234567":
			w.Write([]byte(`[{"id": "c1", "firstName": "Jane", "lastName": "Doe"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("/contacts/c1/leads", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": "l1", "contactId": "c1", "status": "open"}]`))
	})
	mux.HandleFunc("/contacts/c1/sales-team", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"members": [{"id": "r1", "name": "Sam"}, {"id": "r2", "name": "Alex", "primary": true}]}`))
	})
	mux.HandleFunc("/leads/l1/vehicles", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"year": "2024", "make": "Honda", "model": "Civic"}]`))
	})
	mux.HandleFunc("/leads/l1/trade-vehicles", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/leads/l1/source", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/customers/lookup", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("phone") == "slow" {
			time.Sleep(200 * time.Millisecond)
		}
		w.Write([]byte(`{"customerNumber": "P-100", "openRepairOrders": 2}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientContacts(t *testing.T) {
	srv := newCRMServer(t)
	c := NewClient(srv.URL+"/", "key", time.Second)

	contacts, err := c.ContactsByPhone(context.Background(), "5551234567")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Jane Doe", contacts[0].FullName())

	contacts, err = c.ContactsByPhone(context.Background(), "5550000000")
	require.NoError(t, err)
	assert.Empty(t, contacts)
}

func TestClientLeadDetail(t *testing.T) {
	srv := newCRMServer(t)
	c := NewClient(srv.URL, "key", time.Second)
	ctx := context.Background()

	leads, err := c.Leads(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, leads, 1)

	team, err := c.SalesTeam(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", team.ContactID)
	assert.Equal(t, "Alex", team.PrimaryRep().Name)

	vehicles, err := c.VehiclesOfInterest(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "Civic", vehicles[0].Model)

	trades, err := c.TradeVehicles(ctx, "l1")
	require.NoError(t, err)
	assert.Empty(t, trades)

	_, err = c.LeadSource(ctx, "l1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPartsClient(t *testing.T) {
	srv := newCRMServer(t)

	p, err := NewPartsClient(srv.URL, "", time.Second).ServiceProfile(context.Background(), "5551234567")
	require.NoError(t, err)
	assert.Equal(t, "P-100", p.CustomerNumber)
	assert.Equal(t, 2, p.OpenRepairOrders)

	_, err = NewPartsClient(srv.URL, "", 20*time.Millisecond).ServiceProfile(context.Background(), "slow")
	assert.Error(t, err)
}

func TestPrimaryRepFallbacks(t *testing.T) {
	var nilTeam *SalesTeam
	assert.Nil(t, nilTeam.PrimaryRep())
	assert.Nil(t, (&SalesTeam{}).PrimaryRep())
	assert.Equal(t, "r1", (&SalesTeam{Members: []Rep{{ID: "r1"}, {ID: "r2"}}}).PrimaryRep().ID)
}

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/callpop/internal/config"
)

// fakePBX serves the token, detail and event stream endpoints. The
// stream sends its frames once ready is closed.
func fakePBX(t *testing.T, ready <-chan struct{}, frames ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token": "tok", "expires_in": 3600}`))
	})
	mux.HandleFunc("/callcontrol/101/participants/1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id": 1, "dn": "101", "party_caller_name": "Jane Doe", "party_caller_id": "+15551234567", "party_dn": "10001", "callid": 9001, "status": "Ringing"}`))
	})
	mux.HandleFunc("/callcontrol/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-ready
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fakeCRM(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/contacts", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("phone") != "5551234567" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`[{"id": "c1", "firstName": "Jane", "lastName": "Doe"}]`))
	})
	mux.HandleFunc("/contacts/c1/leads", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/contacts/c1/sales-team", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"contactId": "c1", "members": [{"id": "r1", "name": "Sam Rep", "primary": true}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, pbxURL, crmURL string) *config.Config {
	cfg := config.Default()
	cfg.PBX.BaseURL = pbxURL
	cfg.PBX.StreamURL = "ws" + strings.TrimPrefix(pbxURL, "http") + "/callcontrol/ws"
	cfg.PBX.TokenURL = pbxURL + "/connect/token"
	cfg.PBX.ClientID = "callpop"
	cfg.PBX.ClientSecret = "s3cret"
	cfg.CRM.BaseURL = crmURL
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	return cfg
}

func TestRingingCallReachesOperator(t *testing.T) {
	ready := make(chan struct{})
	pbxSrv := fakePBX(t, ready,
		`{"sequence": 1, "event": {"entity": "/callcontrol/101/participants/1", "event_type": 0}}`,
	)
	cfg := testConfig(t, pbxSrv.URL, fakeCRM(t).URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.close()

	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	ops := httptest.NewServer(a.server.Handler)
	defer ops.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ops.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "identify", "extension": "101"}))

	read := func() map[string]any {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}
	require.Equal(t, "identified", read()["type"])
	close(ready)

	var stages []float64
	var complete map[string]any
	for complete == nil {
		msg := read()
		switch msg["type"] {
		case "progressive_update":
			stages = append(stages, msg["stage"].(float64))
		case "complete_customer_data":
			complete = msg
		}
	}
	assert.Equal(t, []float64{1, 2, 3, 4}, stages)
	assert.Equal(t, "9001", complete["callId"])
	assert.Equal(t, "5551234567", complete["phoneNumber"])
	assert.Equal(t, "call_notification", read()["type"])

	require.Eventually(t, func() bool {
		recs, err := a.history.ByOperator(context.Background(), "101", 10)
		return err == nil && len(recs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	setupLogging("warn", false)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	setupLogging("bogus", false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	setupLogging("error", true)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odds-oracle/internal/fetcher"
	"odds-oracle/internal/oddscache"
	"odds-oracle/internal/service"
)

type stubLoop struct {
	state service.State
	hb    *service.Heartbeat
	games []fetcher.ScheduledGame
}

func (s stubLoop) Games() []fetcher.ScheduledGame { return s.games }

func (s stubLoop) State() service.State { return s.state }

func (s stubLoop) LastHeartbeat() (service.Heartbeat, bool) {
	if s.hb == nil {
		return service.Heartbeat{}, false
	}
	return *s.hb, true
}

type stubOdds struct {
	snaps map[string]oddscache.Snapshot
	last  time.Time
}

func (s stubOdds) Get(gameID string) (oddscache.Snapshot, bool) {
	snap, ok := s.snaps[gameID]
	return snap, ok
}

func (s stubOdds) Snapshots() []oddscache.Snapshot {
	out := make([]oddscache.Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, snap)
	}
	return out
}

func (s stubOdds) LastFullRefresh() time.Time { return s.last }

func newTestServer(loop LoopStatus, odds OddsReader) *httptest.Server {
	return httptest.NewServer(New(":0", loop, odds, zerolog.Nop()).Routes())
}

func sampleOdds() stubOdds {
	g := fetcher.OddsGame{
		Key:           "2024-07-01_New York Yankees_Boston Red Sox",
		HomeTeam:      "Boston Red Sox",
		AwayTeam:      "New York Yankees",
		HomeMoneyline: map[string]int{"fanduel": -140},
		AwayMoneyline: map[string]int{"fanduel": 120},
		Books:         []string{"fanduel"},
	}
	return stubOdds{
		snaps: map[string]oddscache.Snapshot{"745123": {GameID: "745123", Initial: g, Latest: g}},
		last:  time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestStatusEndpoint(t *testing.T) {
	hb := &service.Heartbeat{Date: "2024-07-01", State: "RUNNING"}
	srv := newTestServer(stubLoop{state: service.StateRunning, hb: hb}, sampleOdds())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "RUNNING", body.State)
	assert.Equal(t, 1, body.OddsGames)
	require.NotNil(t, body.Heartbeat)
	assert.Equal(t, "2024-07-01", body.Heartbeat.Date)
	require.NotNil(t, body.LastFullRefresh)
}

func TestGetOddsForGame(t *testing.T) {
	srv := newTestServer(stubLoop{state: service.StateRunning}, sampleOdds())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/odds/745123")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "745123", body["game_id"])
	assert.Equal(t, "0.5833", body["home_implied"])
	assert.Equal(t, "0.4545", body["away_implied"])
}

func TestGetOddsMissingGame(t *testing.T) {
	srv := newTestServer(stubLoop{}, sampleOdds())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/odds/999")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListOdds(t *testing.T) {
	srv := newTestServer(stubLoop{}, sampleOdds())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/odds/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
}

func TestListGames(t *testing.T) {
	loop := stubLoop{games: []fetcher.ScheduledGame{
		{ID: "745123", HomeTeam: "Boston Red Sox", AwayTeam: "New York Yankees", StartTime: time.Date(2024, 7, 1, 23, 10, 0, 0, time.UTC)},
		{ID: "745124", HomeTeam: "Chicago Cubs", AwayTeam: "St. Louis Cardinals", StartTime: time.Date(2024, 7, 2, 0, 5, 0, 0, time.UTC)},
	}}
	srv := newTestServer(loop, sampleOdds())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/games")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count int `json:"count"`
		Games []struct {
			ID      string `json:"id"`
			Game    string `json:"game"`
			HasOdds bool   `json:"has_odds"`
		} `json:"games"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "New York Yankees vs Boston Red Sox", body.Games[0].Game)
	assert.True(t, body.Games[0].HasOdds)
	assert.False(t, body.Games[1].HasOdds)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(stubLoop{}, stubOdds{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

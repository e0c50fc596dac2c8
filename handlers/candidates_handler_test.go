package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-cascade/services/candidates"
	"github.com/upb/llm-cascade/services/discovery"
	"github.com/upb/llm-cascade/services/providers"
	"github.com/upb/llm-cascade/services/providers/providertest"
	"github.com/upb/llm-cascade/services/ranker"
)

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) Refresh(ctx context.Context) (discovery.Report, error) {
	args := m.Called(ctx)
	return args.Get(0).(discovery.Report), args.Error(1)
}

func newCandidatesFixture(refresher Refresher) (*CandidatesHandler, *ranker.Ranker, http.Handler) {
	table := candidates.NewTableBuilder().
		Add(candidates.T2, "Groq", "llama-3.3-70b", "General").
		Add(candidates.T2, "Gemini", "gemini-2.0-flash", "General").
		Add(candidates.T2, "Mistral", "mistral-small", "General").
		Build()
	registry := candidates.NewRegistry(table)

	// Mistral has no provider
	provs := providers.NewRegistry(
		providertest.New("Groq", "llama-3.3-70b"),
		providertest.New("Gemini", "gemini-2.0-flash"),
	)
	rnk := ranker.NewRanker(ranker.DefaultPolicy(), zap.NewNop())

	h := NewCandidatesHandler(registry, provs, rnk, refresher, time.Second, zap.NewNop())

	r := chi.NewRouter()
	r.Get("/candidates/{tier}", h.HandleList)
	r.Get("/ranker/{tier}", h.HandleRanking)
	r.Post("/candidates/refresh", h.HandleRefresh)
	return h, rnk, r
}

func TestCandidatesHandler_HandleList(t *testing.T) {
	_, _, router := newCandidatesFixture(nil)

	t.Run("lists the tier in registry order", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/candidates/t2", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var resp CandidatesResponse
		decodeData(t, w.Body, &resp)
		assert.Equal(t, "T2", resp.Tier)
		require.Len(t, resp.Candidates, 3)
		assert.Equal(t, "Groq", resp.Candidates[0].Engine)
		assert.True(t, resp.Candidates[0].Available)
		assert.Equal(t, "Mistral", resp.Candidates[2].Engine)
		assert.False(t, resp.Candidates[2].Available)
	})

	t.Run("legacy tier label", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/candidates/L2", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("empty tier", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/candidates/T4", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp CandidatesResponse
		decodeData(t, w.Body, &resp)
		assert.Empty(t, resp.Candidates)
	})

	t.Run("invalid tier", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/candidates/T9", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCandidatesHandler_HandleRanking(t *testing.T) {
	_, rnk, router := newCandidatesFixture(nil)

	rnk.RecordOutcome(candidates.Key{Engine: "Groq", ModelID: "llama-3.3-70b"},
		ranker.Outcome{Success: false, Latency: 2 * time.Second})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ranker/T2", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp RankingResponse
	decodeData(t, w.Body, &resp)

	// Unavailable engines are not ranked; the failing candidate drops below
	// the untried one.
	require.Len(t, resp.Ranked, 2)
	assert.Equal(t, "Gemini", resp.Ranked[0].Engine)
	assert.Equal(t, int64(0), resp.Ranked[0].Samples)
	assert.Equal(t, "Groq", resp.Ranked[1].Engine)
	assert.Equal(t, int64(1), resp.Ranked[1].Samples)
	assert.Less(t, resp.Ranked[1].Score, resp.Ranked[0].Score)
}

func TestCandidatesHandler_HandleRefresh(t *testing.T) {
	t.Run("returns the report", func(t *testing.T) {
		refresher := new(mockRefresher)
		refresher.On("Refresh", mock.Anything).Return(discovery.Report{
			Candidates: 12,
			Version:    3,
			Engines:    []discovery.EngineReport{{Engine: "Groq", Listed: 9}},
		}, nil)

		_, _, router := newCandidatesFixture(refresher)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/candidates/refresh", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp RefreshResponse
		decodeData(t, w.Body, &resp)
		assert.Equal(t, 12, resp.Report.Candidates)
		assert.Equal(t, uint64(3), resp.Report.Version)
		refresher.AssertExpectations(t)
	})

	t.Run("refresh failure", func(t *testing.T) {
		refresher := new(mockRefresher)
		refresher.On("Refresh", mock.Anything).Return(discovery.Report{}, errors.New("boom"))

		_, _, router := newCandidatesFixture(refresher)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/candidates/refresh", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("discovery disabled", func(t *testing.T) {
		_, _, router := newCandidatesFixture(nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/candidates/refresh", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

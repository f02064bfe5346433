package versebotsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusDecodesReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/status", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"total_interactions":3,"failed":1,"quota":{"made":2,"limit":100,"remaining":98,"percent_used":2},
"history":[{"date":"2025-03-01","verse_reference":"John 3:16","post_id":"p1"}],
"next_runs":[{"job":"daily_post","next":"2025-03-02T08:00:00Z"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.BearerToken = "tok"
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalInteractions)
	assert.Equal(t, 98, st.Quota.Remaining)
	require.Len(t, st.History, 1)
	assert.Equal(t, "p1", st.History[0].PostID)
	require.Len(t, st.NextRuns, 1)
	assert.Equal(t, "daily_post", st.NextRuns[0].Job)
}

func TestQueriesAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/events":
			assert.Equal(t, "interaction.failed", r.URL.Query().Get("type"))
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`[{"id":7,"type":"interaction.failed","entity_id":"T1"}]`))
		case "/v0/interactions/T1/reopen":
			assert.Equal(t, http.MethodPost, r.Method)
			http.Error(w, `{"error":{"code":"forbidden"}}`, http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	evts, err := c.Events(context.Background(), "interaction.failed", 5)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, int64(7), evts[0].ID)

	_, err = c.Reopen(context.Background(), "T1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

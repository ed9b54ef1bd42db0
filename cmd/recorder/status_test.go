package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusHandler(t *testing.T) {
	_, rec := feedRecorder(t)

	w := httptest.NewRecorder()
	statusHandler(rec).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var st sessionStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, rec.SessionID(), st.SessionID)
	assert.Equal(t, "idle", st.State)
	assert.Equal(t, 20, st.QueueCap)
	assert.Zero(t, st.Total)
	assert.Empty(t, st.LastError)
}

func TestStatusHandler_RejectsPost(t *testing.T) {
	_, rec := feedRecorder(t)

	w := httptest.NewRecorder()
	statusHandler(rec).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

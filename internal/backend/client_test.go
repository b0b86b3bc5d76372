package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandeepkv93/remindd/internal/model"
	"github.com/sandeepkv93/remindd/internal/storage"
)

func TestListRemindersParsesWrappedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/reminders", r.URL.Path)
		assert.Equal(t, "pending", r.URL.Query().Get("status"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"success":true,"reminders":[
			{"id":7,"task_text":"call the bank","scheduled_time_utc":"2026-01-17 12:00:00","status":"pending"},
			{"id":8,"task_text":"broken","scheduled_time_utc":"someday","status":"pending"},
			{"id":9,"task_text":"legacy","scheduled_time_utc":"2026-01-17T13:00:00Z","status":"completed"}
		]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", WithToken("secret"))
	require.NoError(t, err)

	got, err := c.ListReminders(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.True(t, got[0].ScheduledAt.Equal(time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, model.StatusDone, got[1].Status)
}

func TestListRemindersAcceptsBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"task_text":"x","scheduled_time_utc":"2026-01-17T12:00:00","status":"pending"}]`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	got, err := c.ListReminders(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].TaskText)
}

func TestSetStatusSendsPatch(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/reminders/42/status", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "done", body["status"])
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	require.NoError(t, c.SetStatus(context.Background(), 42, model.StatusDone))
	assert.Equal(t, 1, calls)

	err = c.SetStatus(context.Background(), 42, model.Status("archived"))
	assert.ErrorIs(t, err, model.ErrInvalidStatus)
	assert.Equal(t, 1, calls)
}

func TestStatusErrorCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"Reminder not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	err = c.SetStatus(context.Background(), 99, model.StatusDone)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.NotFound())
	assert.Contains(t, se.Body, "Reminder not found")
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient("  ")
	assert.ErrorIs(t, err, ErrNoBaseURL)
}

type flakyLister struct {
	reminders []model.Reminder
	err       error
}

func (f *flakyLister) ListReminders(context.Context) ([]model.Reminder, error) {
	return f.reminders, f.err
}

func TestCachedSourceFallsBackToCache(t *testing.T) {
	repo, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer repo.Close()

	now := time.Date(2026, 1, 17, 11, 0, 0, 0, time.UTC)
	upstream := &flakyLister{reminders: []model.Reminder{
		{ID: 7, TaskText: "call the bank", ScheduledAt: now.Add(time.Hour), Status: model.StatusPending},
	}}
	src := NewCachedSource(upstream, repo, func() time.Time { return now }, nil)

	got, err := src.ListReminders(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)

	upstream.err = errors.New("connection refused")
	got, err = src.ListReminders(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "call the bank", got[0].TaskText)

	upstream.err = &StatusError{Code: http.StatusUnauthorized}
	_, err = src.ListReminders(context.Background())
	assert.Error(t, err, "auth failures must not be masked by the cache")
}

func TestCachedSourceWithoutCache(t *testing.T) {
	repo, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer repo.Close()

	src := NewCachedSource(&flakyLister{err: errors.New("offline")}, repo, nil, nil)
	_, err = src.ListReminders(context.Background())
	assert.ErrorIs(t, err, ErrNoCache)
}

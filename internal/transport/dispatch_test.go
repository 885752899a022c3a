package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ametzler/tabvault/internal/domain/archive"
	"github.com/ametzler/tabvault/internal/domain/rules"
	"github.com/ametzler/tabvault/internal/domain/settings"
	"github.com/ametzler/tabvault/internal/events"
	"github.com/ametzler/tabvault/internal/sqlite"
	"github.com/ametzler/tabvault/internal/transport"
)

type memStore struct {
	data []byte
}

func (s *memStore) Load() ([]byte, error) { return s.data, nil }
func (s *memStore) Save(data []byte) error {
	s.data = data
	return nil
}
func (s *memStore) Watch(onChange func(data []byte)) (func(), error) {
	return func() {}, nil
}

func newDispatcher(t *testing.T) (*transport.Dispatcher, *archive.Service) {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	settingsSvc := settings.NewService(&memStore{}, logger)
	require.NoError(t, settingsSvc.Start())
	t.Cleanup(settingsSvc.Stop)

	store := sqlite.NewStore(db)
	archiveSvc := archive.NewService(store, settingsSvc, rules.NewEvaluator(logger), nil, nil, nil, events.NewBus(), logger)

	return transport.NewDispatcher(archiveSvc, settingsSvc, logger), archiveSvc
}

func handle(t *testing.T, d *transport.Dispatcher, id any, method, params string) transport.Response {
	t.Helper()
	req := map[string]any{"id": id, "method": method}
	if params != "" {
		req["params"] = json.RawMessage(params)
	}
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	return d.Handle(context.Background(), payload)
}

func TestHandleUnknownMethod(t *testing.T) {
	d, _ := newDispatcher(t)

	resp := handle(t, d, 1, "tabs.frobnicate", "")
	require.NotNil(t, resp.Error)
	require.Equal(t, transport.ErrMethodNotFound, resp.Error.Code)
}

func TestHandleParseError(t *testing.T) {
	d, _ := newDispatcher(t)

	resp := d.Handle(context.Background(), []byte("{not json"))
	require.NotNil(t, resp.Error)
	require.Equal(t, transport.ErrParseCode, resp.Error.Code)
}

func TestHandleMissingMethod(t *testing.T) {
	d, _ := newDispatcher(t)

	resp := d.Handle(context.Background(), []byte(`{"id":5}`))
	require.NotNil(t, resp.Error)
	require.Equal(t, transport.ErrInvalidReq, resp.Error.Code)
}

func TestHandleCategoryLifecycle(t *testing.T) {
	d, _ := newDispatcher(t)

	resp := handle(t, d, 1, "categories.create", `{"name":"Work","color":"blue"}`)
	require.Nil(t, resp.Error)
	cat, ok := resp.Result.(*archive.Category)
	require.True(t, ok)
	require.Equal(t, "Work", cat.Name)

	resp = handle(t, d, 2, "categories.update", `{"id":"`+cat.ID+`","name":"Projects"}`)
	require.Nil(t, resp.Error)
	updated := resp.Result.(*archive.Category)
	require.Equal(t, "Projects", updated.Name)
	require.Equal(t, "blue", updated.Color)

	resp = handle(t, d, 3, "categories.list", "")
	require.Nil(t, resp.Error)
	cats := resp.Result.([]archive.Category)
	require.Len(t, cats, 1)

	resp = handle(t, d, 4, "categories.delete", `{"id":"`+cat.ID+`"}`)
	require.Nil(t, resp.Error)

	resp = handle(t, d, 5, "categories.delete", `{"id":"`+cat.ID+`"}`)
	require.NotNil(t, resp.Error)
	require.Equal(t, transport.ErrInvalidParams, resp.Error.Code)
}

func TestHandleArchiveTabs(t *testing.T) {
	d, _ := newDispatcher(t)

	resp := handle(t, d, 1, "tabs.archive", `{
		"tabs": [{"tab": {"id": 3, "windowId": 1, "url": "https://a.example/", "title": "A"}}],
		"sessionDate": 1700000000000
	}`)
	require.Nil(t, resp.Error)

	resp = handle(t, d, 2, "tabs.bySession", `{"sessionDate": 1700000000000}`)
	require.Nil(t, resp.Error)
	tabs := resp.Result.([]archive.ArchivedTab)
	require.Len(t, tabs, 1)
	require.Equal(t, "https://a.example/", tabs[0].URL)
}

func TestHandleArchiveTabsEmptySelection(t *testing.T) {
	d, _ := newDispatcher(t)

	resp := handle(t, d, 1, "tabs.archive", `{"tabs": []}`)
	require.NotNil(t, resp.Error)
	require.Equal(t, transport.ErrInvalidParams, resp.Error.Code)
}

func TestHandleInvalidParams(t *testing.T) {
	d, _ := newDispatcher(t)

	resp := handle(t, d, 1, "tabs.delete", `{"ids": "not-an-array"}`)
	require.NotNil(t, resp.Error)
	require.Equal(t, transport.ErrInvalidParams, resp.Error.Code)
}

func TestHandleSettingsRoundTrip(t *testing.T) {
	d, _ := newDispatcher(t)

	resp := handle(t, d, 1, "settings.get", "")
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var got struct {
		Archive settings.ArchiveSettings `json:"archiveSettings"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	require.True(t, got.Archive.NoDuplicateURLs, "defaults are served before any update")

	updated := got.Archive
	updated.ArchiveTabOnClose = true
	body, err := json.Marshal(map[string]any{"archiveSettings": updated})
	require.NoError(t, err)
	resp = handle(t, d, 2, "settings.update", string(body))
	require.Nil(t, resp.Error)

	resp = handle(t, d, 3, "settings.get", "")
	require.Nil(t, resp.Error)
	raw, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &got))
	require.True(t, got.Archive.ArchiveTabOnClose)
}

func TestHandleSettingsColors(t *testing.T) {
	d, _ := newDispatcher(t)

	resp := handle(t, d, 1, "settings.colors", "")
	require.Nil(t, resp.Error)
	colors := resp.Result.([]string)
	require.Len(t, colors, 13)
}

func TestServeRoundTrip(t *testing.T) {
	d, _ := newDispatcher(t)

	var in bytes.Buffer
	write := func(v any) {
		payload, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, transport.WriteMessage(&in, payload))
	}
	write(transport.Request{ID: 1, Method: "categories.create", Params: json.RawMessage(`{"name":"Work","color":"red"}`)})
	write(transport.Request{ID: 2, Method: "categories.list"})

	var out bytes.Buffer
	require.NoError(t, d.Serve(context.Background(), &in, &out))

	read := func() transport.Response {
		payload, err := transport.ReadMessage(&out)
		require.NoError(t, err)
		var resp transport.Response
		require.NoError(t, json.Unmarshal(payload, &resp))
		return resp
	}

	first := read()
	require.Nil(t, first.Error)
	require.EqualValues(t, 1, first.ID)

	second := read()
	require.Nil(t, second.Error)
	require.EqualValues(t, 2, second.ID)

	_, err := transport.ReadMessage(&out)
	require.ErrorIs(t, err, io.EOF)
}

func TestServeOversizedResultBecomesError(t *testing.T) {
	d, svc := newDispatcher(t)

	// A category whose name alone exceeds the outbound cap cannot be listed
	// over the wire; the reply degrades to an error instead of going silent.
	huge := strings.Repeat("x", transport.MaxOutboundSize+1)
	_, err := svc.CreateCategory(context.Background(), huge, "red", "")
	require.NoError(t, err)

	var in bytes.Buffer
	payload, err := json.Marshal(transport.Request{ID: 7, Method: "categories.list"})
	require.NoError(t, err)
	require.NoError(t, transport.WriteMessage(&in, payload))

	var out bytes.Buffer
	require.NoError(t, d.Serve(context.Background(), &in, &out))

	respPayload, err := transport.ReadMessage(&out)
	require.NoError(t, err)
	var resp transport.Response
	require.NoError(t, json.Unmarshal(respPayload, &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, transport.ErrInternal, resp.Error.Code)
}

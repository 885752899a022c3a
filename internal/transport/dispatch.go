package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ametzler/tabvault/internal/domain/archive"
	"github.com/ametzler/tabvault/internal/domain/settings"
)

// Error codes, JSON-RPC compatible.
const (
	ErrParseCode      = -32700
	ErrInvalidReq     = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

// Request is one browser-to-host message.
type Request struct {
	ID     any             `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one host-to-browser message.
type Response struct {
	ID     any    `json:"id,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error is the error object of a failed request.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler executes one method.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Dispatcher routes requests to the archive and settings services.
type Dispatcher struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over the two services.
func NewDispatcher(archiveSvc *archive.Service, settingsSvc *settings.Service, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]Handler), logger: logger}

	d.register("tabs.archive", d.archiveTabs(archiveSvc))
	d.register("tabs.list", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return archiveSvc.ListTabs(ctx)
	})
	d.register("tabs.byCategory", d.tabsByCategory(archiveSvc))
	d.register("tabs.bySession", d.tabsBySession(archiveSvc))
	d.register("tabs.delete", d.deleteTabs(archiveSvc))

	d.register("categories.create", d.createCategory(archiveSvc))
	d.register("categories.update", d.updateCategory(archiveSvc))
	d.register("categories.delete", d.deleteCategory(archiveSvc))
	d.register("categories.list", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return archiveSvc.ListCategories(ctx)
	})
	d.register("categories.rules", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return archiveSvc.GetCategoriesWithAutoCatchRules(ctx)
	})

	d.register("sessions.create", d.createSession(archiveSvc))
	d.register("sessions.delete", d.deleteSession(archiveSvc))
	d.register("sessions.list", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return archiveSvc.ListSessions(ctx)
	})

	d.register("archive.delete", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return nil, archiveSvc.DeleteArchive(ctx)
	})

	d.register("settings.get", d.getSettings(settingsSvc))
	d.register("settings.update", d.updateSettings(settingsSvc))
	d.register("settings.reset", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return nil, settingsSvc.Reset(ctx)
	})
	d.register("settings.colors", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return settingsSvc.SupportedColors(), nil
	})

	return d
}

func (d *Dispatcher) register(method string, h Handler) {
	d.handlers[method] = h
}

// Handle executes one raw request payload and returns the response.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte) Response {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Response{Error: &Error{Code: ErrParseCode, Message: "parse error"}}
	}
	if req.Method == "" {
		return Response{ID: req.ID, Error: &Error{Code: ErrInvalidReq, Message: "missing method"}}
	}

	h, ok := d.handlers[req.Method]
	if !ok {
		return Response{ID: req.ID, Error: &Error{Code: ErrMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}}
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		d.logger.Warn("request failed", "method", req.Method, "error", err)
		return Response{ID: req.ID, Error: toError(err)}
	}
	return Response{ID: req.ID, Result: result}
}

// Serve runs the stdio loop until the stream closes or ctx is canceled.
// Requests are handled sequentially, matching the browser's delivery order.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, err := ReadMessage(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading request: %w", err)
		}

		resp := d.Handle(ctx, payload)
		if err := d.writeResponse(w, resp); err != nil {
			return err
		}
	}
}

// writeResponse sends the response, degrading an over-limit result to an
// error reply so the request never goes unanswered.
func (d *Dispatcher) writeResponse(w io.Writer, resp Response) error {
	out, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("encoding response failed", "error", err)
		resp = Response{ID: resp.ID, Error: &Error{Code: ErrInternal, Message: "response encoding failed"}}
		out, _ = json.Marshal(resp)
	}

	werr := WriteMessage(w, out)
	if errors.Is(werr, ErrMessageTooLarge) {
		resp = Response{ID: resp.ID, Error: &Error{Code: ErrInternal, Message: "result too large for transport"}}
		out, _ = json.Marshal(resp)
		werr = WriteMessage(w, out)
	}
	if werr != nil {
		return fmt.Errorf("writing response: %w", werr)
	}
	return nil
}

func toError(err error) *Error {
	var pe *paramError
	if errors.As(err, &pe) {
		return &Error{Code: ErrInvalidParams, Message: pe.Error()}
	}
	switch {
	case errors.Is(err, archive.ErrNoTabsSelected),
		errors.Is(err, archive.ErrCategoryNotFound),
		errors.Is(err, archive.ErrSessionNotFound),
		errors.Is(err, archive.ErrSessionExists),
		errors.Is(err, archive.ErrUnknownColor):
		return &Error{Code: ErrInvalidParams, Message: err.Error()}
	default:
		return &Error{Code: ErrInternal, Message: err.Error()}
	}
}

// tabToArchiveParam mirrors archive.TabToArchive on the wire.
type tabToArchiveParam struct {
	Tab             archive.TabSnapshot `json:"tab"`
	SessionDate     int64               `json:"sessionDate,omitempty"`
	PreviewImageURL string              `json:"previewImageUrl,omitempty"`
}

func (d *Dispatcher) archiveTabs(svc *archive.Service) Handler {
	type params struct {
		Tabs        []tabToArchiveParam `json:"tabs"`
		SessionDate int64               `json:"sessionDate,omitempty"`
	}
	type result struct {
		Tabs        []archive.ArchivedTab `json:"tabs"`
		MinorErrors []string              `json:"minorErrors,omitempty"`
	}
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p params
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		batch := make([]archive.TabToArchive, len(p.Tabs))
		for i, t := range p.Tabs {
			batch[i] = archive.TabToArchive{
				Snapshot:        t.Tab,
				SessionDate:     t.SessionDate,
				PreviewImageURL: t.PreviewImageURL,
			}
		}
		tabs, minor, err := svc.ArchiveTabs(ctx, batch, p.SessionDate)
		if err != nil {
			return nil, err
		}
		return result{Tabs: tabs, MinorErrors: minor}, nil
	}
}

func (d *Dispatcher) tabsByCategory(svc *archive.Service) Handler {
	type params struct {
		CategoryID string `json:"categoryId"`
	}
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p params
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		return svc.TabsForCategory(p.CategoryID).ToArray(ctx)
	}
}

func (d *Dispatcher) tabsBySession(svc *archive.Service) Handler {
	type params struct {
		SessionDate int64 `json:"sessionDate"`
	}
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p params
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		return svc.TabsForSession(p.SessionDate).ToArray(ctx)
	}
}

func (d *Dispatcher) deleteTabs(svc *archive.Service) Handler {
	type params struct {
		IDs []string `json:"ids"`
	}
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p params
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, svc.DeleteTabs(ctx, p.IDs)
	}
}

func (d *Dispatcher) createCategory(svc *archive.Service) Handler {
	type params struct {
		Name  string `json:"name,omitempty"`
		Color string `json:"color,omitempty"`
		Rule  string `json:"rule,omitempty"`
	}
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p params
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		return svc.CreateCategory(ctx, p.Name, p.Color, p.Rule)
	}
}

func (d *Dispatcher) updateCategory(svc *archive.Service) Handler {
	type params struct {
		ID    string  `json:"id"`
		Name  *string `json:"name,omitempty"`
		Color *string `json:"color,omitempty"`
		Rule  *string `json:"rule,omitempty"`
	}
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p params
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		return svc.UpdateCategory(ctx, p.ID, archive.CategoryPatch{
			Name:  p.Name,
			Color: p.Color,
			Rule:  p.Rule,
		})
	}
}

func (d *Dispatcher) deleteCategory(svc *archive.Service) Handler {
	type params struct {
		ID string `json:"id"`
	}
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p params
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, svc.DeleteCategory(ctx, p.ID)
	}
}

func (d *Dispatcher) createSession(svc *archive.Service) Handler {
	type params struct {
		Date int64 `json:"date,omitempty"`
	}
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p params
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		return svc.CreateSession(ctx, p.Date)
	}
}

func (d *Dispatcher) deleteSession(svc *archive.Service) Handler {
	type params struct {
		Date int64 `json:"date"`
	}
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p params
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, svc.DeleteSession(ctx, p.Date)
	}
}

func (d *Dispatcher) getSettings(svc *settings.Service) Handler {
	type result struct {
		Version int                      `json:"version"`
		Archive settings.ArchiveSettings `json:"archiveSettings"`
		Open    settings.OpenSettings    `json:"openSettings"`
	}
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		archiveCfg, err := svc.Archive(ctx)
		if err != nil {
			return nil, err
		}
		openCfg, err := svc.Open(ctx)
		if err != nil {
			return nil, err
		}
		return result{Version: settings.SettingsVersion, Archive: archiveCfg, Open: openCfg}, nil
	}
}

func (d *Dispatcher) updateSettings(svc *settings.Service) Handler {
	type params struct {
		Archive *settings.ArchiveSettings `json:"archiveSettings,omitempty"`
		Open    *settings.OpenSettings    `json:"openSettings,omitempty"`
	}
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p params
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, svc.Update(ctx, func(cfg *settings.Settings) {
			if p.Archive != nil {
				cfg.Archive = *p.Archive
			}
			if p.Open != nil {
				cfg.Open = *p.Open
			}
		})
	}
}

// paramError marks a malformed params payload.
type paramError struct {
	err error
}

func (e *paramError) Error() string { return "invalid params: " + e.err.Error() }

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return &paramError{err: errors.New("missing params")}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &paramError{err: err}
	}
	return nil
}

package transporthttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"example.com/sessionledger/internal/config"
	"example.com/sessionledger/internal/domain"
	"example.com/sessionledger/internal/guard"
	"example.com/sessionledger/internal/ledger"
)

type ServerDeps struct {
	Cfg    config.Config
	Ledger *ledger.Service
	Log    *slog.Logger
	Now    func() time.Time
}

func decodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeOptional is decodeJSONStrict for endpoints whose body may be empty.
func decodeOptional(r *http.Request, v any) error {
	if err := decodeJSONStrict(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (d *ServerDeps) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if p, ok := problemFor(err); ok {
		p.Instance = r.URL.Path
		writeProblem(w, p)
		return
	}
	d.Log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	WriteProblem(w, http.StatusInternalServerError, "internal error", "", nil)
}

func (d *ServerDeps) badJSON(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteProblem(w, http.StatusRequestEntityTooLarge, "request too large", err.Error(), nil)
		return
	}
	WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := d.Ledger.Ready(r.Context()); err != nil {
		d.Log.WarnContext(r.Context(), "readiness check failed", "err", err)
		WriteProblem(w, http.StatusServiceUnavailable, "not ready", "storage not reachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Sessions ---

func (d *ServerDeps) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var in ledger.StartInput
	if err := decodeJSONStrict(r, &in); err != nil {
		d.badJSON(w, r, err)
		return
	}
	res, err := d.Ledger.StartSession(r.Context(), ActorFrom(r.Context()), in)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+res.SessionID)
	writeJSON(w, http.StatusCreated, res)
}

type sessionViewResp struct {
	Session  domain.Session `json:"session"`
	LiveView liveViewResp   `json:"live_view"`
}

func (d *ServerDeps) HandleGetActiveSession(w http.ResponseWriter, r *http.Request) {
	active, err := d.Ledger.GetActiveSession(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionViewResp(active))
}

func (d *ServerDeps) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sv, err := d.Ledger.GetSession(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionViewResp(sv))
}

func newSessionViewResp(sv ledger.SessionView) sessionViewResp {
	return sessionViewResp{Session: sv.Session, LiveView: newLiveViewResp(sv.View)}
}

func (d *ServerDeps) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var in ledger.EndInput
	if err := decodeJSONStrict(r, &in); err != nil {
		d.badJSON(w, r, err)
		return
	}
	res, err := d.Ledger.EndSession(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"], in)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type recordedAtResp struct {
	RecordedAt time.Time `json:"recorded_at"`
}

func (d *ServerDeps) HandlePause(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	at, err := d.Ledger.PauseSession(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordedAtResp{RecordedAt: at})
}

func (d *ServerDeps) HandleResume(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	at, err := d.Ledger.ResumeSession(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordedAtResp{RecordedAt: at})
}

// --- Session events ---

type seatReq struct {
	SeatNumber int    `json:"seat_number"`
	PlayerName string `json:"player_name"`
}

func (d *ServerDeps) HandleSeatPlayer(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req seatReq
	if err := decodeJSONStrict(r, &req); err != nil {
		d.badJSON(w, r, err)
		return
	}
	ev, err := d.Ledger.SeatPlayer(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"], req.SeatNumber, req.PlayerName)
	d.respondEvent(w, r, ev, err)
}

type stackReq struct {
	Amount     *int64     `json:"amount"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

func (d *ServerDeps) HandleUpdateStack(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req stackReq
	if err := decodeJSONStrict(r, &req); err != nil {
		d.badJSON(w, r, err)
		return
	}
	if req.Amount == nil {
		d.writeError(w, r, domain.InvalidArgument(domain.FieldError{Field: "amount", Msg: "required"}))
		return
	}
	ev, err := d.Ledger.UpdateStack(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"], *req.Amount, req.RecordedAt)
	d.respondEvent(w, r, ev, err)
}

func (d *ServerDeps) HandleRecordRebuy(w http.ResponseWriter, r *http.Request) {
	d.handleBuyIn(w, r, d.Ledger.RecordRebuy)
}

func (d *ServerDeps) HandleRecordAddon(w http.ResponseWriter, r *http.Request) {
	d.handleBuyIn(w, r, d.Ledger.RecordAddon)
}

type buyInFunc func(ctx context.Context, actor, sessionID string, in ledger.BuyInInput) (ledger.BuyInResult, error)

func (d *ServerDeps) handleBuyIn(w http.ResponseWriter, r *http.Request, record buyInFunc) {
	defer DrainBody(r)
	var in ledger.BuyInInput
	if err := decodeJSONStrict(r, &in); err != nil {
		d.badJSON(w, r, err)
		return
	}
	res, err := record(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"], in)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (d *ServerDeps) HandleRecordAllIn(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var in ledger.AllInInput
	if err := decodeJSONStrict(r, &in); err != nil {
		d.badJSON(w, r, err)
		return
	}
	ev, err := d.Ledger.RecordAllIn(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"], in)
	d.respondEvent(w, r, ev, err)
}

type handsPassedReq struct {
	Count int `json:"count"`
}

func (d *ServerDeps) HandleRecordHandsPassed(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req handsPassedReq
	if err := decodeJSONStrict(r, &req); err != nil {
		d.badJSON(w, r, err)
		return
	}
	ev, err := d.Ledger.RecordHandsPassed(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"], req.Count)
	d.respondEvent(w, r, ev, err)
}

type handReq struct {
	Position *domain.Position `json:"position,omitempty"`
}

func (d *ServerDeps) HandleRecordHandComplete(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req handReq
	if err := decodeOptional(r, &req); err != nil {
		d.badJSON(w, r, err)
		return
	}
	ev, err := d.Ledger.RecordHandComplete(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"], req.Position)
	d.respondEvent(w, r, ev, err)
}

type deletedResp struct {
	DeletedIDs []string `json:"deleted_ids"`
}

func (d *ServerDeps) HandleDeleteLatestHand(w http.ResponseWriter, r *http.Request) {
	id, err := d.Ledger.DeleteLatestHandComplete(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResp{DeletedIDs: []string{id}})
}

type eventsResp struct {
	Events []domain.SessionEvent `json:"events"`
}

func (d *ServerDeps) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := d.Ledger.ListBySession(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResp{Events: events})
}

// --- Events ---

type patchEventReq struct {
	Amount     *int64     `json:"amount,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

func (d *ServerDeps) HandlePatchEvent(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req patchEventReq
	if err := decodeJSONStrict(r, &req); err != nil {
		d.badJSON(w, r, err)
		return
	}
	res, err := d.Ledger.UpdateEvent(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"],
		guard.UpdateRequest{Amount: req.Amount, RecordedAt: req.RecordedAt})
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d *ServerDeps) HandleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	ids, err := d.Ledger.DeleteEvent(r.Context(), ActorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResp{DeletedIDs: ids})
}

func (d *ServerDeps) respondEvent(w http.ResponseWriter, r *http.Request, ev domain.SessionEvent, err error) {
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// --- Router ---

func (d *ServerDeps) Router() http.Handler {
	if d.Log == nil {
		d.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, http.StatusNotFound, "not found", "no route for "+r.URL.Path, nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, http.StatusMethodNotAllowed, "method not allowed", r.Method+" is not supported here", nil)
	})
	r.HandleFunc("/healthz", d.HandleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", d.HandleReadyz).Methods(http.MethodGet)

	limiter := NewRateLimiter(d.Cfg.RateLimitPerMin, d.Cfg.RateLimitBurst, d.Now)
	api := r.NewRoute().Subrouter()
	api.Use(
		APIKeyAuth(d.Cfg.APIKeys),
		RequireActor,
		limiter.Middleware,
		BodyLimit(d.Cfg.MaxBodyBytes),
		RequireJSON,
	)

	api.HandleFunc("/sessions", d.HandleStartSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/active", d.HandleGetActiveSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", d.HandleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/end", d.HandleEndSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/pause", d.HandlePause).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/resume", d.HandleResume).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/seats", d.HandleSeatPlayer).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/stack", d.HandleUpdateStack).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/rebuys", d.HandleRecordRebuy).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/addons", d.HandleRecordAddon).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/all-ins", d.HandleRecordAllIn).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/hands", d.HandleRecordHandComplete).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/hands/passed", d.HandleRecordHandsPassed).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/hands/latest", d.HandleDeleteLatestHand).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/events", d.HandleListEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", d.HandlePatchEvent).Methods(http.MethodPatch)
	api.HandleFunc("/events/{id}", d.HandleDeleteEvent).Methods(http.MethodDelete)

	var h http.Handler = r
	if len(d.Cfg.CORSAllowedOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: d.Cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-API-Key", ActorHeader},
		}).Handler(h)
	}
	return RequestLogger(d.Log)(h)
}

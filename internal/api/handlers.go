package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/PingPipe/internal/models"
	"github.com/BTreeMap/PingPipe/internal/popup"
	"github.com/BTreeMap/PingPipe/internal/schedule"
)

var (
	errNoPopup    = errors.New("no popup is open")
	errStalePopup = errors.New("popup is no longer current")
)

// completeRequest answers the open popup. Either Text or Responses is set;
// Responses is used for itemized detailed answers.
type completeRequest struct {
	TimeCollected  time.Time         `json:"time_collected"`
	OriginatorName string            `json:"originator_name"`
	Text           string            `json:"text,omitempty"`
	Responses      []models.Response `json:"responses,omitempty"`
}

type showNowRequest struct {
	SuggestedResponse string `json:"suggested_response"`
}

// cadenceBody is the wire form of models.CadenceContext.
type cadenceBody struct {
	FrequencyMin int       `json:"frequency_min"`
	StartedAt    time.Time `json:"started_at"`
	WasStarted   bool      `json:"was_started"`
}

func (c cadenceBody) toModel() models.CadenceContext {
	return models.CadenceContext{
		DesiredFrequency: time.Duration(c.FrequencyMin) * time.Minute,
		StartedAt:        c.StartedAt,
		WasStarted:       c.WasStarted,
	}
}

func cadenceFromModel(c models.CadenceContext) cadenceBody {
	return cadenceBody{FrequencyMin: c.FrequencyMin(), StartedAt: c.StartedAt, WasStarted: c.WasStarted}
}

type statusResponse struct {
	Popup         *models.Popup `json:"popup"`
	Paused        bool          `json:"paused"`
	Pending       int           `json:"pending"`
	LastCheckTime time.Time     `json:"last_check_time"`
	Cadence       cadenceBody   `json:"cadence"`
	User          models.User   `json:"user"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, "healthHandler", http.MethodGet) {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, "statusHandler", http.MethodGet) {
		return
	}
	var resp statusResponse
	err := s.onLoop(r, func() {
		resp.Popup = s.engine.Current()
		resp.Paused = s.engine.RegularTimer().Paused()
		resp.LastCheckTime = s.engine.RegularTimer().LastCheckTime()
		resp.Pending = len(s.engine.Queue().Pending())
	})
	if err != nil {
		slog.Error("Server.statusHandler: engine unavailable", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Engine unavailable"))
		return
	}
	s.mu.Lock()
	resp.Cadence = cadenceFromModel(s.cadence)
	resp.User = s.user
	s.mu.Unlock()
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

func (s *Server) popupHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, "popupHandler", http.MethodGet) {
		return
	}
	var current *models.Popup
	if err := s.onLoop(r, func() { current = s.engine.Current() }); err != nil {
		slog.Error("Server.popupHandler: engine unavailable", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Engine unavailable"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(current))
}

func (s *Server) completeHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, "completeHandler", http.MethodPost) {
		return
	}
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		slog.Warn("Server.completeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Text == "" && len(req.Responses) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("text or responses is required"))
		return
	}

	var result error
	err := s.onLoop(r, func() {
		current := s.engine.Current()
		if current == nil {
			result = errNoPopup
			return
		}
		if !current.TimeCollected.Equal(req.TimeCollected) || current.OriginatorName != req.OriginatorName {
			result = errStalePopup
			return
		}
		responses := buildResponses(*current, req)
		for _, resp := range responses {
			if err := resp.Validate(); err != nil {
				result = err
				return
			}
		}
		s.engine.Complete(*current, responses)
	})
	if err != nil {
		slog.Error("Server.completeHandler: engine unavailable", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Engine unavailable"))
		return
	}

	switch {
	case result == nil:
		slog.Info("Server.completeHandler: popup completed", "timeCollected", req.TimeCollected, "originator", req.OriginatorName)
		writeJSONResponse(w, http.StatusOK, models.Accepted())
	case errors.Is(result, errNoPopup), errors.Is(result, errStalePopup):
		slog.Warn("Server.completeHandler: rejected completion", "error", result, "timeCollected", req.TimeCollected)
		writeJSONResponse(w, http.StatusConflict, models.Error(result.Error()))
	default:
		slog.Warn("Server.completeHandler: validation failed", "error", result)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(result.Error()))
	}
}

// buildResponses fills in what the client left out from the popup itself.
func buildResponses(p models.Popup, req completeRequest) []models.Response {
	if len(req.Responses) == 0 {
		return []models.Response{popup.NewResponse(p, req.Text)}
	}
	def := popup.NewResponse(p, "")
	out := make([]models.Response, len(req.Responses))
	for i, resp := range req.Responses {
		if resp.TimeCollected.IsZero() {
			resp.TimeCollected = def.TimeCollected
		}
		if resp.TimeBlockLengthMin == 0 {
			resp.TimeBlockLengthMin = def.TimeBlockLengthMin
		}
		if resp.SubmissionType == "" {
			resp.SubmissionType = def.SubmissionType
		}
		out[i] = resp
	}
	return out
}

func (s *Server) showNowHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, "showNowHandler", http.MethodPost) {
		return
	}
	var req showNowRequest
	if err := decodeJSON(r, &req); err != nil {
		slog.Warn("Server.showNowHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.SuggestedResponse == "" && s.suggester != nil {
		req.SuggestedResponse = s.suggester.Suggest(r.Context(), time.Now())
	}
	if err := s.onLoop(r, func() { s.engine.ShowNow(req.SuggestedResponse) }); err != nil {
		slog.Error("Server.showNowHandler: engine unavailable", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Engine unavailable"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Popup requested", showNowRequest{SuggestedResponse: req.SuggestedResponse}))
}

// engineAction serves a body-less POST that runs action on the engine loop.
func (s *Server) engineAction(name string, action func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, name, http.MethodPost) {
			return
		}
		if err := s.onLoop(r, action); err != nil {
			slog.Error("Server."+name+": engine unavailable", "error", err)
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Engine unavailable"))
			return
		}
		slog.Debug("Server." + name + ": done")
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
	}
}

func (s *Server) cadenceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.mu.Lock()
		c := cadenceFromModel(s.cadence)
		s.mu.Unlock()
		writeJSONResponse(w, http.StatusOK, models.Success(c))
		return
	}
	if !allowMethod(w, r, "cadenceHandler", http.MethodPut) {
		return
	}
	var body cadenceBody
	if err := decodeJSON(r, &body); err != nil {
		slog.Warn("Server.cadenceHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if body.FrequencyMin < 0 || (body.WasStarted && (body.FrequencyMin == 0 || body.StartedAt.IsZero())) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("a started cadence needs frequency_min > 0 and started_at"))
		return
	}
	cadence := body.toModel()
	if err := s.onLoop(r, func() { s.engine.UpdateCadenceContext(cadence) }); err != nil {
		slog.Error("Server.cadenceHandler: engine unavailable", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Engine unavailable"))
		return
	}
	s.mu.Lock()
	s.cadence = cadence
	s.mu.Unlock()
	slog.Info("Server.cadenceHandler: cadence updated", "frequencyMin", body.FrequencyMin, "startedAt", body.StartedAt, "wasStarted", body.WasStarted)
	writeJSONResponse(w, http.StatusOK, models.Success(body))
}

func (s *Server) userHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, "userHandler", http.MethodPut) {
		return
	}
	var u models.User
	if err := decodeJSON(r, &u); err != nil {
		slog.Warn("Server.userHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.onLoop(r, func() { s.engine.UpdateUser(u) }); err != nil {
		slog.Error("Server.userHandler: engine unavailable", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Engine unavailable"))
		return
	}
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
	if s.onUser != nil {
		s.onUser(u)
	}
	slog.Info("Server.userHandler: user updated", "userID", u.ID, "accountType", u.AccountType)
	writeJSONResponse(w, http.StatusOK, models.Success(u))
}

func (s *Server) entriesHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, "entriesHandler", http.MethodGet) {
		return
	}
	if s.entries == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Entry store not configured"))
		return
	}
	day := schedule.StartOfDay(time.Now())
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.ParseInLocation("2006-01-02", d, time.Local)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("date must be YYYY-MM-DD"))
			return
		}
		day = parsed
	}
	entries, err := s.entries.EntriesBetween(day, day.AddDate(0, 0, 1))
	if err != nil {
		slog.Error("Server.entriesHandler: failed to load entries", "error", err, "day", day)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load entries"))
		return
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}

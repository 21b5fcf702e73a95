package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hushd/internal/dnd"
	"hushd/internal/notification"
	"hushd/internal/pipeline"
	"hushd/internal/queue"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps domain errors onto status codes: validation
// failures are the caller's fault, anything else is ours.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *notification.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// --- ingest ---

type ingestRequest struct {
	ID        string `json:"id,omitempty"`
	UserID    string `json:"user_id"`
	AppName   string `json:"app_name"`
	Sender    string `json:"sender,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	IsCall    bool   `json:"is_call,omitempty"`
	IsAlarm   bool   `json:"is_alarm,omitempty"`
}

type ingestResponse struct {
	NotificationID string     `json:"notification_id"`
	Action         string     `json:"action"`
	Priority       string     `json:"priority"`
	Context        string     `json:"context"`
	Reasoning      string     `json:"reasoning"`
	QueueID        string     `json:"queue_id,omitempty"`
	DeferUntil     *time.Time `json:"defer_until,omitempty"`
	BundleKey      string     `json:"bundle_key,omitempty"`
	Delivered      bool       `json:"delivered"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := s.pipe.Process(r.Context(), pipeline.Ingest{
		ID:        req.ID,
		UserID:    req.UserID,
		AppName:   req.AppName,
		Sender:    req.Sender,
		Text:      req.Text,
		Timestamp: req.Timestamp,
		IsCall:    req.IsCall,
		IsAlarm:   req.IsAlarm,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := ingestResponse{
		NotificationID: out.NotificationID,
		Action:         out.Action.String(),
		Priority:       out.Priority.String(),
		Context:        out.Context.String(),
		Reasoning:      out.Reasoning,
		QueueID:        out.QueueID,
		BundleKey:      out.BundleKey,
		Delivered:      out.Delivered,
	}
	if !out.DeferUntil.IsZero() {
		t := out.DeferUntil
		resp.DeferUntil = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- dnd ---

type statusResponse struct {
	Active bool       `json:"active"`
	Source string     `json:"source,omitempty"`
	EndsAt *time.Time `json:"ends_at,omitempty"`
}

func (s *Server) handleDNDStatus(w http.ResponseWriter, r *http.Request) {
	st := s.dnd.IsActive(userID(r), time.Now())
	resp := statusResponse{Active: st.Active, Source: st.Source}
	if !st.EndsAt.IsZero() {
		t := st.EndsAt
		resp.EndsAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

type scheduleView struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	Days       []string `json:"days,omitempty"`
	Exceptions []string `json:"exceptions,omitempty"`
	Enabled    bool     `json:"enabled"`
}

func toScheduleView(sc dnd.Schedule) scheduleView {
	v := scheduleView{
		ID:      sc.ID,
		Type:    sc.Type.String(),
		Start:   sc.Start.String(),
		End:     sc.End.String(),
		Enabled: sc.Enabled,
	}
	for _, d := range sc.Days {
		v.Days = append(v.Days, strings.ToLower(d.String()))
	}
	for _, e := range sc.Exceptions {
		v.Exceptions = append(v.Exceptions, e.String())
	}
	return v
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	scheds := s.dnd.Schedules(userID(r))
	views := make([]scheduleView, 0, len(scheds))
	for _, sc := range scheds {
		views = append(views, toScheduleView(sc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": views})
}

type createScheduleRequest struct {
	Type       string   `json:"type"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	Days       []string `json:"days,omitempty"`
	Exceptions []string `json:"exceptions,omitempty"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	days, err := parseWeekdays(req.Days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	id, err := s.dnd.CreateSchedule(userID(r), req.Type, req.Start, req.End, days, req.Exceptions)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type updateScheduleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req updateScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.dnd.SetScheduleEnabled(userID(r), chi.URLParam(r, "schedule_id"), req.Enabled); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.dnd.DeleteSchedule(userID(r), chi.URLParam(r, "schedule_id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startManualRequest struct {
	Minutes    int      `json:"minutes"`
	Exceptions []string `json:"exceptions,omitempty"`
}

func (s *Server) handleStartManual(w http.ResponseWriter, r *http.Request) {
	var req startManualRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.dnd.StartManualDND(userID(r), req.Minutes, req.Exceptions)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id": sess.UserID,
		"start":   sess.Start,
		"end":     sess.End,
	})
}

func (s *Server) handleStopManual(w http.ResponseWriter, r *http.Request) {
	if !s.dnd.StopManualDND(userID(r)) {
		writeError(w, http.StatusNotFound, "no active manual session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type senderRequest struct {
	Sender string `json:"sender"`
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	var req senderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Sender) == "" {
		writeError(w, http.StatusBadRequest, "sender is required")
		return
	}
	s.dnd.AddFavorite(userID(r), req.Sender)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request) {
	var req senderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Sender) == "" {
		writeError(w, http.StatusBadRequest, "sender is required")
		return
	}
	s.dnd.AddContact(userID(r), req.Sender)
	w.WriteHeader(http.StatusNoContent)
}

// --- queue ---

type queueItemView struct {
	QueueID    string    `json:"queue_id"`
	AppName    string    `json:"app_name"`
	Sender     string    `json:"sender,omitempty"`
	Priority   string    `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	DeliverAt  time.Time `json:"deliver_at"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
}

func toQueueItemView(it queue.Item) queueItemView {
	return queueItemView{
		QueueID:    it.ID,
		AppName:    it.Notification.AppName,
		Sender:     it.Notification.Sender,
		Priority:   it.Priority.String(),
		EnqueuedAt: it.EnqueuedAt,
		DeliverAt:  it.DeliverAt,
		Status:     it.Status.String(),
		Attempts:   it.Attempts,
	}
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	st := s.queue.Stats(uid)
	items := s.queue.PendingItems(uid)
	views := make([]queueItemView, 0, len(items))
	for _, it := range items {
		views = append(views, toQueueItemView(it))
	}
	resp := map[string]any{
		"depth": st.Depth,
		"due":   st.Due,
		"items": views,
	}
	if !st.NextDeliverAt.IsZero() {
		resp["next_deliver_at"] = st.NextDeliverAt
	}
	writeJSON(w, http.StatusOK, resp)
}

type reprioritizeRequest struct {
	Priority string `json:"priority"`
}

func (s *Server) handleQueueReprioritize(w http.ResponseWriter, r *http.Request) {
	var req reprioritizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	prio, err := notification.ParsePriority(req.Priority)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.queue.UpdatePriority(userID(r), chi.URLParam(r, "queue_id"), prio); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueCancel(w http.ResponseWriter, r *http.Request) {
	if !s.queue.Cancel(userID(r), chi.URLParam(r, "queue_id")) {
		writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- bundles ---

func (s *Server) handleBundleStats(w http.ResponseWriter, r *http.Request) {
	st := s.bundler.Stats(userID(r))
	writeJSON(w, http.StatusOK, map[string]int{
		"bundles": st.Bundles,
		"items":   st.Items,
	})
}

func userID(r *http.Request) string {
	return chi.URLParam(r, "user_id")
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	byName := map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday,
		"friday": time.Friday, "saturday": time.Saturday,
	}
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		d, ok := byName[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, &notification.ValidationError{Field: "days", Reason: "unknown weekday " + strings.TrimSpace(n)}
		}
		out = append(out, d)
	}
	return out, nil
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sendflow/internal/schedule"
	"sendflow/internal/services/engine"
	"sendflow/internal/storage"
	logx "sendflow/pkg/logx"
	"sendflow/pkg/phone"
)

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("GET /api/schedules/{id}", s.handleGetSchedule)
	mux.HandleFunc("PATCH /api/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleCancelSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/pause", s.handlePauseSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/resume", s.handleResumeSchedule)

	mux.HandleFunc("POST /api/send-bulk", s.handleSendBulk)
	mux.HandleFunc("GET /api/jobs/{token}", s.handleJobStatus)

	mux.HandleFunc("POST /api/contacts", s.handleCreateContact)
	mux.HandleFunc("GET /api/contacts", s.handleListContacts)
	mux.HandleFunc("POST /api/groups", s.handleCreateGroup)
	mux.HandleFunc("GET /api/groups", s.handleListGroups)
	mux.HandleFunc("GET /api/groups/{id}/members", s.handleGroupMembers)
	mux.HandleFunc("GET /api/messages", s.handleRecentMessages)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

func (s *Service) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	in := engine.CreateInput{
		Kind:      schedule.Kind(req.Type),
		ContactID: req.ContactID,
		Phone:     req.Phone,
		GroupID:   req.GroupID,
		Message:   req.Message,
		CronExpr:  req.CronExpr,
	}
	if req.RunAt != "" {
		at, err := time.Parse(time.RFC3339, req.RunAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "run_at: must be RFC 3339")
			return
		}
		in.RunAt = at
	}

	var (
		rec schedule.Record
		err error
	)
	switch schedule.ScheduleKind(req.ScheduleType) {
	case schedule.ScheduleOnce:
		rec, err = s.sched.CreateOnce(r.Context(), in)
	case schedule.ScheduleCron:
		rec, err = s.sched.CreateCron(r.Context(), in)
	default:
		writeError(w, http.StatusBadRequest, "schedule_type: must be \"once\" or \"cron\"")
		return
	}
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}

	item, gerr := s.sched.Get(r.Context(), rec.ID)
	if gerr != nil {
		item = engine.ListItem{Record: rec}
	}
	writeJSON(w, http.StatusCreated, toScheduleResponse(item))
}

func (s *Service) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	items, err := s.sched.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]scheduleResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toScheduleResponse(it))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	item, err := s.sched.Get(r.Context(), id)
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(item))
}

func (s *Service) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req scheduleUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var p storage.SchedulePatch
	p.Message = req.Message
	if req.ScheduleType != nil {
		sk := schedule.ScheduleKind(*req.ScheduleType)
		p.Schedule = &sk
	}
	if req.RunAt != nil {
		at, err := time.Parse(time.RFC3339, *req.RunAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "run_at: must be RFC 3339")
			return
		}
		p.RunAt = &at
	}
	p.CronExpr = req.CronExpr

	rec, err := s.sched.Update(r.Context(), id, p)
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}
	item, gerr := s.sched.Get(r.Context(), rec.ID)
	if gerr != nil {
		item = engine.ListItem{Record: rec}
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(item))
}

func (s *Service) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "cancel", s.sched.Cancel)
}

func (s *Service) handlePauseSchedule(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "pause", s.sched.Pause)
}

func (s *Service) handleResumeSchedule(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "resume", s.sched.Resume)
}

func (s *Service) handleTransition(w http.ResponseWriter, r *http.Request, verb string, fn func(ctx context.Context, id int64) (bool, error)) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	changed, err := fn(r.Context(), id)
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}
	if !changed {
		writeError(w, http.StatusConflict, "cannot "+verb+" schedule in its current status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Service) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.GroupID == 0 {
		writeError(w, http.StatusBadRequest, "group_id: required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message: cannot be empty")
		return
	}
	if len(req.Message) > schedule.MaxMessageLen {
		writeError(w, http.StatusBadRequest, "message: too long")
		return
	}

	delay := s.defaultBulkDelay
	if req.DelaySeconds != nil {
		if *req.DelaySeconds < 0 {
			writeError(w, http.StatusBadRequest, "delay_seconds: must be >= 0")
			return
		}
		delay = time.Duration(*req.DelaySeconds * float64(time.Second))
	}

	token := s.bulk.Dispatch(r.Context(), req.GroupID, req.Message, delay)
	writeJSON(w, http.StatusAccepted, map[string]string{"token": token})
}

func (s *Service) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	snap, ok := s.bulk.Status(token)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Service) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name: required")
		return
	}
	norm, err := phone.NormalizeE164(req.Phone)
	if err != nil {
		writeError(w, http.StatusBadRequest, "phone: "+err.Error())
		return
	}
	c := storage.Contact{Name: req.Name, Phone: norm, GroupID: req.GroupID}
	if err := s.dir.CreateContact(r.Context(), &c); err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Service) handleListContacts(w http.ResponseWriter, r *http.Request) {
	cs, err := s.dir.ListContacts(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Service) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name: required")
		return
	}
	g := storage.Group{Name: req.Name, Description: req.Description}
	if err := s.dir.CreateGroup(r.Context(), &g); err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Service) handleListGroups(w http.ResponseWriter, r *http.Request) {
	gs, err := s.dir.ListGroups(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gs)
}

func (s *Service) handleGroupMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ms, err := s.dir.GroupMembers(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *Service) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit: must be a positive integer")
			return
		}
		limit = n
	}
	ms, err := s.dir.RecentMessages(r.Context(), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *Service) writeScheduleError(w http.ResponseWriter, err error) {
	var verr *schedule.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "schedule not found")
	default:
		s.internalError(w, err)
	}
}

func (s *Service) internalError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", logx.Err(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func toScheduleResponse(it engine.ListItem) scheduleResponse {
	resp := scheduleResponse{
		ID:        it.ID,
		JobID:     it.JobID,
		Type:      string(it.Kind),
		Target:    it.Target,
		Message:   it.Message,
		Schedule:  string(it.Record.Schedule),
		CronExpr:  it.CronExpr,
		Status:    it.Status.String(),
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
	if !it.RunAt.IsZero() {
		at := it.RunAt
		resp.RunAt = &at
	}
	if !it.LastRunAt.IsZero() {
		at := it.LastRunAt
		resp.LastRunAt = &at
	}
	return resp
}

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, name+": must be a positive integer")
		return 0, false
	}
	return id, true
}

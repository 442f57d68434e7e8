package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/educapro/notifier/internal/domain/notification"
	"github.com/educapro/notifier/internal/services/notifier"
)

const defaultAPISource = "external"

type recipientBody struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// createRequest accepts either a single recipient or a batch. The
// sender may omit recipients and use the top-level email fields instead.
type createRequest struct {
	RecipientEmail string                `json:"recipient_email,omitempty"`
	RecipientName  string                `json:"recipient_name,omitempty"`
	RecipientRole  string                `json:"recipient_role,omitempty"`
	Recipients     []recipientBody       `json:"recipients,omitempty"`
	Channel        notification.Channel  `json:"channel,omitempty"`
	TaskInfo       notification.TaskInfo `json:"task_info"`
	SenderInfo     *notification.Sender  `json:"sender_info,omitempty"`
	ScheduledFor   *time.Time            `json:"scheduled_for,omitempty"`
}

type createResponse struct {
	Notifications []*notification.Notification `json:"notifications"`
	Errors        []string                     `json:"errors,omitempty"`
}

type listResponse struct {
	Notifications []*notification.Notification `json:"notifications"`
	Total         int                          `json:"total"`
	Limit         int                          `json:"limit"`
	Offset        int                          `json:"offset"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type createFn func(ctx context.Context, in notifier.CreateInput) (*notification.Notification, error)

// createHandler serves one notification type. Batch requests create one
// notification per recipient; per-recipient failures are reported in
// the response body without aborting the rest.
func (s *Server) createHandler(create createFn, allowSchedule bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		source := r.Header.Get("X-Source-System")
		if source == "" {
			source = defaultAPISource
		}

		recipients := req.Recipients
		if len(recipients) == 0 {
			recipients = []recipientBody{{
				Email: req.RecipientEmail,
				Name:  req.RecipientName,
				Role:  req.RecipientRole,
			}}
		}

		resp := createResponse{Notifications: make([]*notification.Notification, 0, len(recipients))}
		for _, rcpt := range recipients {
			in := notifier.CreateInput{
				RecipientEmail: rcpt.Email,
				RecipientName:  rcpt.Name,
				RecipientRole:  rcpt.Role,
				Channel:        req.Channel,
				TaskInfo:       req.TaskInfo,
				SenderInfo:     req.SenderInfo,
				SourceSystem:   source,
			}
			if allowSchedule {
				in.ScheduledFor = req.ScheduledFor
			}
			n, err := create(r.Context(), in)
			if err != nil {
				var ve *notification.ValidationError
				if errors.As(err, &ve) && len(recipients) == 1 {
					writeError(w, http.StatusBadRequest, ve.Error())
					return
				}
				resp.Errors = append(resp.Errors, rcpt.Email+": "+err.Error())
				continue
			}
			resp.Notifications = append(resp.Notifications, n)
		}

		if len(resp.Notifications) == 0 && len(resp.Errors) > 0 {
			writeJSON(w, http.StatusInternalServerError, resp)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// resend returns 200 with the post-attempt record even when the
// delivery itself failed; the record carries the failure.
func (s *Server) resend(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Resend(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		var de *notification.DeliveryError
		if errors.As(err, &de) && n != nil {
			writeJSON(w, http.StatusOK, n)
			return
		}
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, total, err := s.engine.History(r.Context(), f)
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	writeJSON(w, http.StatusOK, listResponse{
		Notifications: list,
		Total:         total,
		Limit:         f.Limit,
		Offset:        f.Offset,
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.engine.ComputeStats(r.Context(), f)
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) processPending(w http.ResponseWriter, r *http.Request) {
	sum, err := s.reconciler.Run(r.Context())
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func filterFromQuery(r *http.Request) (notification.Filter, error) {
	q := r.URL.Query()
	f := notification.Filter{
		RecipientEmail: q.Get("recipient_email"),
		Type:           notification.Type(q.Get("type")),
		State:          notification.State(q.Get("state")),
	}
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := q.Get(p.key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, errors.New("invalid " + p.key + " timestamp")
			}
			*p.dst = t
		}
	}
	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		if v := q.Get(p.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return f, errors.New("invalid " + p.key)
			}
			*p.dst = n
		}
	}
	return f, nil
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, notification.ErrNotFound) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	s.writeInternal(w, err)
}

func (s *Server) writeInternal(w http.ResponseWriter, err error) {
	s.log.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

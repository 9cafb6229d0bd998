package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/joescharf/crm/internal/crm"
	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/dashboard"
	"github.com/joescharf/crm/internal/metrics"
	"github.com/joescharf/crm/internal/models"
	"github.com/joescharf/crm/internal/store"
)

// Frame is the data of one server-sent event on /stream/{kind}.
type Frame struct {
	Kind  models.Kind            `json:"kind"`
	At    time.Time              `json:"at"`
	Leads []*models.Lead         `json:"leads,omitempty"`
	Deals []*models.Deal         `json:"deals,omitempty"`
	Tasks []*models.FollowUpTask `json:"tasks,omitempty"`
	Count int                    `json:"count"`
	Error *errorBody             `json:"error,omitempty"`
}

func frameOf(snap store.Snapshot) Frame {
	f := Frame{Kind: snap.Kind, At: snap.At, Leads: snap.Leads, Deals: snap.Deals, Tasks: snap.Tasks, Count: snap.Len()}
	if snap.Err != nil {
		f.Error = &errorBody{
			Error:     snap.Err.Error(),
			Code:      string(crmerr.CodeOf(snap.Err)),
			Retryable: crmerr.IsTransport(snap.Err),
		}
	}
	return f
}

// stream sends every snapshot of one collection as a server-sent event.
// Read failures arrive as "error" events and the stream stays open.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	kind := models.Kind(r.PathValue("kind"))
	sub, err := s.svc.Subscribe(r.Context(), session(r), kind)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snap := range sub.C {
		event := "snapshot"
		if snap.Err != nil {
			event = "error"
		}
		data, err := json.Marshal(frameOf(snap))
		if err != nil {
			s.log.Error("encode snapshot", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// TrackPipeline keeps the pipeline value gauge current for one owner until
// ctx is done.
func TrackPipeline(ctx context.Context, svc *crm.Service, sess crm.Session, log *zap.Logger) error {
	board := dashboard.NewBoard(sess.OwnerID)
	board.OnChange(func(b *dashboard.Board) {
		for kind, err := range b.Stale() {
			log.Warn("pipeline view is stale", zap.String("kind", string(kind)), zap.Error(err))
		}
		_, deals, _ := b.Collections()
		for _, stage := range models.Stages {
			metrics.SetPipelineValue(string(stage), dashboard.StageTotal(deals, stage))
		}
	})
	return board.Run(ctx, sessionSubscriber{svc: svc, sess: sess})
}

// sessionSubscriber adapts the service to dashboard.Subscriber.
type sessionSubscriber struct {
	svc  *crm.Service
	sess crm.Session
}

func (s sessionSubscriber) Subscribe(ctx context.Context, kind models.Kind, _ string) (*store.Subscription, error) {
	return s.svc.Subscribe(ctx, s.sess, kind)
}

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/d2ha/d2ha/lib/actions"
	"github.com/d2ha/d2ha/lib/images"
	"github.com/d2ha/d2ha/lib/logger"
	"github.com/go-chi/chi/v5"
)

// ActionResponse reports a finished container command
type ActionResponse struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Status string `json:"status"`
}

// ContainerAction runs start, stop, restart, pause, unpause or delete
func (s *ApiService) ContainerAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	action := chi.URLParam(r, "action")

	var err error
	switch action {
	case actions.ActionDelete:
		err = s.Executor.RemoveContainer(ctx, id)
	case actions.ActionFullUpdate:
		s.RecreateContainer(w, r)
		return
	default:
		err = s.Executor.ApplySimpleAction(ctx, id, action)
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	s.afterCommand(ctx)
	writeJSON(w, http.StatusOK, ActionResponse{ID: id, Action: action, Status: "ok"})
}

// RecreateContainer pulls the image of a container and recreates it. With
// async=true the recreation runs in the background and the response is 202;
// progress is available from the operations endpoints.
func (s *ApiService) RecreateContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if queryBool(r, "async") {
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if err := s.Executor.RecreateContainerWithLatestImage(ctx, id); err != nil {
				logger.FromContext(ctx).ErrorContext(ctx, "background recreate failed", "id", id, "error", err)
				return
			}
			s.afterCommand(ctx)
		}()
		writeJSON(w, http.StatusAccepted, ActionResponse{ID: id, Action: actions.ActionFullUpdate, Status: "accepted"})
		return
	}

	if err := s.Executor.RecreateContainerWithLatestImage(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	s.afterCommand(r.Context())
	writeJSON(w, http.StatusOK, ActionResponse{ID: id, Action: actions.ActionFullUpdate, Status: "ok"})
}

// afterCommand refreshes the fleet cache and republishes in the background.
func (s *ApiService) afterCommand(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		log := logger.FromContext(ctx)
		if err := s.FleetManager.Refresh(ctx); err != nil {
			log.WarnContext(ctx, "fleet refresh after command failed", "error", err)
		}
		if s.DiscoveryManager == nil {
			return
		}
		if err := s.DiscoveryManager.SyncOnce(ctx); err != nil {
			log.WarnContext(ctx, "publish after command failed", "error", err)
		}
	}()
}

// ListOperations returns running and recently finished recreations
func (s *ApiService) ListOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Executor.Operations())
}

// OperationEvents streams the progress of a recreation as server-sent
// events. A finished operation yields its final state once.
func (s *ApiService) OperationEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	opID := chi.URLParam(r, "id")

	ch, err := s.Executor.SubscribeOperation(ctx, opID)
	if err != nil {
		if errors.Is(err, actions.ErrNotFound) {
			fail(w, r, err)
			return
		}
		op, ok := s.findOperation(opID)
		if !ok {
			fail(w, r, err)
			return
		}
		ch = make(chan images.ProgressUpdate, 1)
		ch <- op.Progress
		close(ch)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	stream := images.ToSSEReader(ch)
	defer stream.Close()
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *ApiService) findOperation(id string) (actions.Operation, bool) {
	for _, op := range s.Executor.Operations() {
		if op.ID == id {
			return op, true
		}
	}
	return actions.Operation{}, false
}

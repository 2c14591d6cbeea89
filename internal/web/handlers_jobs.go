package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/colextract/internal/core"
)

// heartbeatInterval keeps idle progress streams open through proxies.
const heartbeatInterval = 15 * time.Second

// handleStartExtraction starts an extraction job. The job keeps running
// after the response is sent.
func (s *Server) handleStartExtraction(w http.ResponseWriter, r *http.Request) {
	var req core.ExtractionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	jobID, err := s.service.StartExtraction(r.Context(), chi.URLParam(r, "projectID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/jobs/"+jobID)
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// handleListJobs lists tracked jobs, for one project when the route names one.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if projectID != "" {
		if _, err := s.service.Project(projectID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, s.service.Jobs(projectID))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.JobProgress(chi.URLParam(r, "jobID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, p)
}

// handleJobQueueStatus returns the current state of the job limiter.
func (s *Server) handleJobQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.LimiterStatus())
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelJob(chi.URLParam(r, "jobID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleJobResult blocks until the job finishes or the client goes away.
func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.JobResult(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

// handleJobProgress streams job progress via Server-Sent Events. Event IDs
// are progress sequence numbers, so a client reconnecting with lastEventId
// (query) or Last-Event-ID (header) skips updates it has already seen.
// When the job ends a final "complete" event carries the last snapshot.
func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	lastEventID := -1
	for _, v := range []string{r.URL.Query().Get("lastEventId"), r.Header.Get("Last-Event-ID")} {
		if n, err := strconv.Atoi(v); err == nil {
			lastEventID = n
			break
		}
	}

	progressCh, err := s.service.SubscribeProgress(chi.URLParam(r, "jobID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	var last core.JobProgress
	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				data, _ := json.Marshal(last)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				_ = rc.Flush()
				return
			}
			last = progress
			if progress.Seq <= lastEventID {
				continue
			}
			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Seq, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

package web

import (
	"net/http"

	"github.com/JonMunkholm/colextract/internal/services"
)

// handleListServices returns every configured service with its settings.
func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.Services().Records())
}

// handleUpdateServices replaces the service configuration with the posted
// records and saves it to the settings file.
func (s *Server) handleUpdateServices(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.respondError(w, r, err, statusForUpload(err))
		return
	}

	mgr := s.service.Services()
	if err := mgr.UpdateFromJSON(body); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	if err := mgr.Save(); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, mgr.Records())
}

// handleServiceKinds lists the service kinds records may name.
func (s *Server) handleServiceKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, services.Kinds())
}

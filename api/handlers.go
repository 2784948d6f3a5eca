package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/hubertat/rf4ch"
	"github.com/hubertat/rf4ch/switcher"
)

func (s *Server) device(w http.ResponseWriter, r *http.Request) (*rf4ch.Device, httprouter.Params, bool) {
	p := httprouter.ParamsFromContext(r.Context())
	d, err := s.registry.Get(p.ByName("id"))
	if errors.Is(err, rf4ch.ErrSwitcherNotFound) {
		writeError(w, http.StatusNotFound, err)
		return nil, p, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, p, false
	}
	return d, p, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snaps := []rf4ch.Snapshot{}
	for _, d := range s.registry.List() {
		snaps = append(snaps, d.Snapshot())
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	d, _, ok := s.device(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	d, p, ok := s.device(w, r)
	if !ok {
		return
	}
	ch, err := switcher.ParseChannel(p.ByName("channel"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch strings.ToLower(p.ByName("state")) {
	case "on":
		d.SetChannel(ch, true)
	case "off":
		d.SetChannel(ch, false)
	case "toggle":
		d.ToggleChannel(ch)
	default:
		http.Error(w, "state must be on, off or toggle", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	d, p, ok := s.device(w, r)
	if !ok {
		return
	}
	ch, err := switcher.ParseChannel(p.ByName("channel"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch strings.ToLower(p.ByName("state")) {
	case "on":
		d.OverrideChannel(ch, true)
	case "off":
		d.OverrideChannel(ch, false)
	default:
		http.Error(w, "state must be on or off", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	d, p, ok := s.device(w, r)
	if !ok {
		return
	}
	action, err := switcher.ParseAction(p.ByName("action"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = d.HandleAction(action)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	d, _, ok := s.device(w, r)
	if !ok {
		return
	}

	options := d.Options()
	err := json.NewDecoder(r.Body).Decode(&options)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	d.SetOptions(options)
	writeJSON(w, http.StatusOK, d.Snapshot())
}

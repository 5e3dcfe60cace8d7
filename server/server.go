// Package server exposes a session over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/websynth/patchbay"
	"github.com/websynth/patchbay/internal/logging"
	"github.com/websynth/patchbay/session"
	"github.com/websynth/patchbay/store"
)

const maxBodySize = 1 << 20

// Server serves the operations of one session.
type Server struct {
	Session  *session.Session
	Store    store.Store
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type (
	snapshotPort struct {
		Module    patchbay.ModuleID `json:"module"`
		Port      string            `json:"port"`
		Direction string            `json:"direction"`
		Kind      string            `json:"kind"`
	}

	snapshotResponse struct {
		Version   uint64             `json:"version"`
		Ports     []snapshotPort     `json:"ports"`
		Conflicts []patchbay.Address `json:"conflicts,omitempty"`
	}

	connectRequest struct {
		Port string `mapstructure:"port"`
		From string `mapstructure:"from"`
	}

	targetRequest struct {
		Target patchbay.ModuleID `mapstructure:"target"`
		Note   int               `mapstructure:"note"`
	}

	sequencerRequest struct {
		BPM    *float64 `mapstructure:"bpm"`
		Width  *int     `mapstructure:"width"`
		Scheme *string  `mapstructure:"scheme"`
	}

	bindingRequest struct {
		Channel int    `mapstructure:"channel"`
		Control int    `mapstructure:"control"`
		Param   string `mapstructure:"param"`
		Learn   bool   `mapstructure:"learn"`
	}
)

// NewHandler returns the HTTP handler of the server. A nil Store disables the
// /sessions routes and a nil Gatherer the /metrics route.
func NewHandler(s *Server) http.Handler {
	if s.Logger == nil {
		s.Logger = logging.NewNop()
	}
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/module-types", s.moduleTypes)

	r.Route("/modules", func(r chi.Router) {
		r.Get("/", s.listModules)
		r.Post("/", s.addModule)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getModule)
			r.Delete("/", s.removeModule)
			r.Get("/ports", s.modulePorts)
			r.Put("/params/{name}", s.setParameter)
			r.Post("/connections", s.connect)
			r.Delete("/connections/{port}", s.disconnect)
			r.Post("/effects", s.addEffect)
			r.Delete("/effects/{index}", s.removeEffect)
			r.Put("/target", s.setTarget)
			r.Put("/steps/{column}", s.setStep(true))
			r.Delete("/steps/{column}", s.setStep(false))
			r.Post("/bindings", s.bind)
		})
	})

	r.Get("/snapshot", s.snapshot)
	r.Get("/description", s.getDescription)
	r.Put("/description", s.putDescription)
	r.Put("/sequencer", s.setSequencer)
	r.Post("/sequencer/step/{column}", s.step)

	if s.Store != nil {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Put("/{key}", s.saveSession)
			r.Post("/{key}/load", s.loadSession)
			r.Delete("/{key}", s.deleteSession)
		})
	}
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps session and store errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrModuleNotFound),
		errors.Is(err, session.ErrParameterNotFound),
		errors.Is(err, session.ErrPortNotFound),
		errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrAddressConflict),
		errors.Is(err, session.ErrCycle):
		status = http.StatusConflict
	case errors.Is(err, patchbay.ErrUnknownModuleType),
		errors.Is(err, patchbay.ErrUnknownEffectType),
		errors.Is(err, patchbay.ErrUnknownParameter),
		errors.Is(err, patchbay.ErrInvalidModuleID),
		errors.Is(err, session.ErrIncompatible),
		errors.Is(err, session.ErrWrongModuleType),
		errors.Is(err, session.ErrOutOfRange),
		errors.Is(err, store.ErrInvalidKey),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.Logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")

// decode reads a JSON object from the body into v through mapstructure, so
// numbers may also be sent as strings.
func decode(r *http.Request, v any) error {
	var raw map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&raw); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           v,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func moduleID(r *http.Request) patchbay.ModuleID {
	return patchbay.ModuleID(chi.URLParam(r, "id"))
}

func intParam(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadRequest, name)
	}
	return v, nil
}

func (s *Server) moduleTypes(w http.ResponseWriter, r *http.Request) {
	type param struct {
		Name        string  `json:"name"`
		Min         float64 `json:"min"`
		Max         float64 `json:"max"`
		Default     float64 `json:"default"`
		CanModulate bool    `json:"can_modulate"`
	}
	params := func(ps []patchbay.ModuleParameter) []param {
		ret := make([]param, len(ps))
		for i, p := range ps {
			ret[i] = param{p.Name, p.MinValue, p.MaxValue, p.Default, p.CanModulate}
		}
		return ret
	}
	modules := map[string][]param{}
	for _, name := range patchbay.ModuleTypeNames {
		modules[name] = params(patchbay.ModuleTypes[name].Parameters)
	}
	effects := map[string][]param{}
	for _, name := range patchbay.EffectTypeNames {
		effects[name] = params(patchbay.EffectTypes[name])
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": modules, "effects": effects})
}

func (s *Server) listModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Session.Modules())
}

func (s *Server) addModule(w http.ResponseWriter, r *http.Request) {
	var spec session.ModuleSpec
	if err := decode(r, &spec); err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.Session.AddModule(spec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]patchbay.ModuleID{"id": id})
}

func (s *Server) getModule(w http.ResponseWriter, r *http.Request) {
	m, ok := s.Session.Module(moduleID(r))
	if !ok {
		s.writeError(w, session.ErrModuleNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) removeModule(w http.ResponseWriter, r *http.Request) {
	switch s.Session.RemoveModule(moduleID(r)) {
	case session.Removed:
		w.WriteHeader(http.StatusNoContent)
	case session.NotFound:
		s.writeError(w, session.ErrModuleNotFound)
	case session.Rejected:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "the last module of a required type cannot be removed"})
	}
}

func (s *Server) modulePorts(w http.ResponseWriter, r *http.Request) {
	id := moduleID(r)
	if _, ok := s.Session.Module(id); !ok {
		s.writeError(w, session.ErrModuleNotFound)
		return
	}
	snap := s.Session.Snapshot()
	writeJSON(w, http.StatusOK, portsOf(snap, snap.ModulePorts(id)))
}

func (s *Server) setParameter(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value float64 `mapstructure:"value"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Session.SetParameter(moduleID(r), chi.URLParam(r, "name"), body.Value); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	var body connectRequest
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	from, err := patchbay.ParseAddress(body.From)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	dst := patchbay.Address{Module: moduleID(r), Port: body.Port}
	if err := s.Session.Connect(dst, from); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	dst := patchbay.Address{Module: moduleID(r), Port: chi.URLParam(r, "port")}
	if err := s.Session.Disconnect(dst); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addEffect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type string `mapstructure:"type"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	index, err := s.Session.AddEffect(moduleID(r), body.Type)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"index": index})
}

func (s *Server) removeEffect(w http.ResponseWriter, r *http.Request) {
	index, err := intParam(r, "index")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Session.RemoveEffect(moduleID(r), index); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setTarget(w http.ResponseWriter, r *http.Request) {
	var body targetRequest
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Session.SetVoiceTarget(moduleID(r), body.Target, body.Note); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setStep(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		column, err := intParam(r, "column")
		if err != nil {
			s.writeError(w, err)
			return
		}
		if on {
			err = s.Session.Mark(moduleID(r), column)
		} else {
			err = s.Session.Unmark(moduleID(r), column)
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) bind(w http.ResponseWriter, r *http.Request) {
	var body bindingRequest
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	p := session.MIDIParam{Module: moduleID(r), Param: body.Param}
	var err error
	if body.Learn {
		err = s.Session.BindNext(p)
	} else {
		err = s.Session.Bind(session.MIDIControl{Channel: body.Channel, Control: body.Control}, p)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func portsOf(snap *patchbay.Snapshot, addrs []patchbay.Address) []snapshotPort {
	ret := make([]snapshotPort, 0, len(addrs))
	for _, a := range addrs {
		d, _ := snap.Get(a)
		ret = append(ret, snapshotPort{
			Module:    a.Module,
			Port:      a.Port,
			Direction: d.Direction.String(),
			Kind:      d.Endpoint.Kind().String(),
		})
	}
	return ret
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.Session.Snapshot()
	writeJSON(w, http.StatusOK, snapshotResponse{
		Version:   snap.Version(),
		Ports:     portsOf(snap, snap.Addresses()),
		Conflicts: snap.Conflicts(),
	})
}

func (s *Server) getDescription(w http.ResponseWriter, r *http.Request) {
	d := s.Session.Description()
	data, err := d.Marshal()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

func (s *Server) putDescription(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	d, err := patchbay.UnmarshalDescription(data)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.Session.Load(d); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setSequencer(w http.ResponseWriter, r *http.Request) {
	var body sequencerRequest
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.Scheme != nil {
		if err := s.Session.SetScheme(patchbay.Scheme(*body.Scheme)); err != nil {
			s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	if body.Width != nil {
		if err := s.Session.SetWidth(*body.Width); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if body.BPM != nil {
		s.Session.SetBPM(*body.BPM)
	}
	writeJSON(w, http.StatusOK, s.Session.Sequencer())
}

func (s *Server) step(w http.ResponseWriter, r *http.Request) {
	column, err := intParam(r, "column")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.Session.Step(column)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	keys, err := s.Store.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) saveSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Save(r.Context(), chi.URLParam(r, "key"), s.Session.Description()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) {
	d, err := s.Store.Load(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Session.Load(d); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

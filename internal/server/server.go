// Package server exposes the session core to the frontend: JSON endpoints
// for status, control and settings, and a websocket feed of status events.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deckstream/deckstream/pkg/audio"
	"github.com/deckstream/deckstream/pkg/history"
	"github.com/deckstream/deckstream/pkg/pipeline"
	"github.com/deckstream/deckstream/pkg/settings"
	"github.com/deckstream/deckstream/pkg/system"
)

// Core is the slice of the session the server drives.
type Core interface {
	Status() pipeline.StatusSnapshot
	Start() error
	Stop()
	ClearError()
	EnableMicrophone() error
	DisableMicrophone() error
	SetMicGain(gainDB float64) error
	SetNoiseReduction(percent int) error
	SetMicSource(source string) error
}

// SourceLister enumerates microphone sources.
type SourceLister interface {
	Sources() ([]audio.Source, error)
	MicSource() string
}

// ResolutionProber detects the current display mode.
type ResolutionProber interface {
	DetectResolution() system.Resolution
}

// HistoryReader lists past sessions. Optional.
type HistoryReader interface {
	Recent(limit int) ([]history.SessionRecord, error)
}

// Server is the HTTP query surface.
type Server struct {
	core     Core
	store    *settings.Store
	sources  SourceLister
	prober   ResolutionProber
	hist     HistoryReader
	logger   pipeline.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// New creates the server. hist may be nil.
func New(addr string, core Core, store *settings.Store, sources SourceLister, prober ResolutionProber, hist HistoryReader, logger pipeline.Logger) *Server {
	if logger == nil {
		logger = pipeline.DefaultLogger()
	}
	s := &Server{
		core:    core,
		store:   store,
		sources: sources,
		prober:  prober,
		hist:    hist,
		logger:  logger.With(pipeline.String("component", "server")),
		upgrader: websocket.Upgrader{
			// The surface binds to loopback; the frontend bridge has no
			// meaningful origin to verify.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.httpServer = &http.Server{Addr: addr, Handler: s.routes()}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/error/clear", s.handleClearError)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleSetSettings)
	mux.HandleFunc("GET /api/mic/sources", s.handleMicSources)
	mux.HandleFunc("POST /api/mic/source", s.handleSetMicSource)
	mux.HandleFunc("GET /api/resolution", s.handleResolution)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /ws/events", s.handleEvents)
	return mux
}

// ListenAndServe blocks serving the surface.
func (s *Server) ListenAndServe() error {
	s.logger.Info("query surface listening", pipeline.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type controlResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.core.Start(); err != nil {
		writeJSON(w, http.StatusOK, controlResult{OK: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, controlResult{OK: true})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.core.Stop()
	writeJSON(w, http.StatusOK, controlResult{OK: true})
}

func (s *Server) handleClearError(w http.ResponseWriter, _ *http.Request) {
	s.core.ClearError()
	writeJSON(w, http.StatusOK, controlResult{OK: true})
}

// settingsView is the settings document as served: the stream key masked,
// the sticky mic source included.
type settingsView struct {
	settings.StreamSettings
	MicSource string `json:"mic_source"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	view := settingsView{
		StreamSettings: s.store.Snapshot(),
		MicSource:      s.sources.MicSource(),
	}
	view.StreamKey = s.store.MaskedStreamKey()
	writeJSON(w, http.StatusOK, view)
}

// settingsPatch is a partial settings update; only present fields are
// applied, each through its own persisting setter.
type settingsPatch struct {
	Platform              *string  `json:"platform"`
	CustomRTMPURL         *string  `json:"custom_rtmp_url"`
	StreamKey             *string  `json:"stream_key"`
	VideoBitrate          *int     `json:"video_bitrate"`
	AudioBitrate          *int     `json:"audio_bitrate"`
	Resolution            *string  `json:"resolution"`
	Framerate             *int     `json:"framerate"`
	KeyframeInterval      *int     `json:"keyframe_interval"`
	BFrames               *int     `json:"bframes"`
	MicEnabled            *bool    `json:"mic_enabled"`
	MicGain               *float64 `json:"mic_gain"`
	NoiseReductionPercent *int     `json:"noise_reduction_percent"`
}

func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var patch settingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, controlResult{OK: false, Message: "invalid settings payload"})
		return
	}

	apply := func(err error) bool {
		if err != nil {
			s.logger.Error("settings update failed", pipeline.Error(err))
			writeJSON(w, http.StatusInternalServerError, controlResult{OK: false, Message: err.Error()})
			return false
		}
		return true
	}

	if patch.Platform != nil && !apply(s.store.SetPlatform(*patch.Platform)) {
		return
	}
	if patch.CustomRTMPURL != nil && !apply(s.store.SetCustomRTMPURL(*patch.CustomRTMPURL)) {
		return
	}
	if patch.StreamKey != nil && !apply(s.store.SetStreamKey(*patch.StreamKey)) {
		return
	}
	if patch.VideoBitrate != nil && !apply(s.store.SetVideoBitrate(*patch.VideoBitrate)) {
		return
	}
	if patch.AudioBitrate != nil && !apply(s.store.SetAudioBitrate(*patch.AudioBitrate)) {
		return
	}
	if patch.Resolution != nil && !apply(s.store.SetResolution(*patch.Resolution)) {
		return
	}
	if patch.Framerate != nil && !apply(s.store.SetFramerate(*patch.Framerate)) {
		return
	}
	if patch.KeyframeInterval != nil && !apply(s.store.SetKeyframeInterval(*patch.KeyframeInterval)) {
		return
	}
	if patch.BFrames != nil && !apply(s.store.SetBFrames(*patch.BFrames)) {
		return
	}
	if patch.MicEnabled != nil {
		var err error
		if *patch.MicEnabled {
			err = s.core.EnableMicrophone()
		} else {
			err = s.core.DisableMicrophone()
		}
		if !apply(err) {
			return
		}
	}
	if patch.MicGain != nil && !apply(s.core.SetMicGain(*patch.MicGain)) {
		return
	}
	if patch.NoiseReductionPercent != nil && !apply(s.core.SetNoiseReduction(*patch.NoiseReductionPercent)) {
		return
	}

	writeJSON(w, http.StatusOK, controlResult{OK: true})
}

func (s *Server) handleMicSources(w http.ResponseWriter, _ *http.Request) {
	sources, err := s.sources.Sources()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, controlResult{OK: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handleSetMicSource(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Source == "" {
		writeJSON(w, http.StatusBadRequest, controlResult{OK: false, Message: "invalid source payload"})
		return
	}
	if err := s.core.SetMicSource(payload.Source); err != nil {
		writeJSON(w, http.StatusInternalServerError, controlResult{OK: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, controlResult{OK: true})
}

func (s *Server) handleResolution(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.prober.DetectResolution())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeJSON(w, http.StatusOK, []history.SessionRecord{})
		return
	}
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.hist.Recent(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, controlResult{OK: false, Message: err.Error()})
		return
	}
	if records == nil {
		records = []history.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleEvents streams status snapshots over a websocket: one immediately,
// then one per poll tick. The frontend uses it to render live duration and
// error transitions without polling.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", pipeline.Error(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	send := func() bool {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(s.core.Status()) == nil
	}

	if !send() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

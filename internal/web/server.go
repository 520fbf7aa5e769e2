// Package web provides the HTTP control surface: a small form-based page
// for manual override, timer flags, brightness and off-time.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dschuurman/duskd/internal/device"
	"github.com/dschuurman/duskd/internal/scheduler"
	"github.com/dschuurman/duskd/internal/state"
)

// Limit for the /log page so a long-running daemon can't blow up a request
const maxLogBytes = 64 * 1024

// SchedulePeek exposes the scheduler's pending events for display
type SchedulePeek interface {
	PendingEvents() []scheduler.Event
}

// Server serves the control pages
type Server struct {
	httpServer *http.Server

	store     *state.Store
	commander device.Commander
	sched     SchedulePeek
	tz        *time.Location

	lights  []string
	outlets []string
	logPath string
}

// New creates a control server
func New(addr string, store *state.Store, commander device.Commander, sched SchedulePeek, tz *time.Location, lights, outlets []string, logPath string) *Server {
	s := &Server{
		store:     store,
		commander: commander,
		sched:     sched,
		tz:        tz,
		lights:    lights,
		outlets:   outlets,
		logPath:   logPath,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/off-time", s.handleOffTime)
	mux.HandleFunc("/log", s.handleLog)
	mux.HandleFunc("/index.json", s.handleJSON)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Run starts the server and blocks until the context is cancelled
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("Starting control server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Control server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	var msg string
	if r.Method == http.MethodPost {
		msg = s.applyForm(r)
	}

	s.renderIndex(w, msg)
}

// applyForm processes one control form submission and returns a status
// message for the page
func (s *Server) applyForm(r *http.Request) string {
	if err := r.ParseForm(); err != nil {
		return "Invalid form submission"
	}

	switch {
	case r.PostForm.Get("lights") != "":
		on := r.PostForm.Get("lights") == "on"
		s.setGroup(r.Context(), state.GroupLights, on)
		return fmt.Sprintf("Lights turned %s", onOff(on))

	case r.PostForm.Get("outlets") != "":
		on := r.PostForm.Get("outlets") == "on"
		s.setGroup(r.Context(), state.GroupOutlets, on)
		return fmt.Sprintf("Outlets turned %s", onOff(on))

	case r.PostForm.Get("lights_timer") != "":
		enabled := r.PostForm.Get("lights_timer") == "on"
		s.store.SetTimerEnabled(state.GroupLights, enabled)
		return fmt.Sprintf("Lights timer %s", enabledDisabled(enabled))

	case r.PostForm.Get("outlets_timer") != "":
		enabled := r.PostForm.Get("outlets_timer") == "on"
		s.store.SetTimerEnabled(state.GroupOutlets, enabled)
		return fmt.Sprintf("Outlets timer %s", enabledDisabled(enabled))

	case r.PostForm.Get("brightness") != "":
		v, err := strconv.Atoi(r.PostForm.Get("brightness"))
		if err != nil {
			return "Invalid brightness value"
		}
		if err := s.store.SetBrightness(v); err != nil {
			return fmt.Sprintf("Rejected: %v", err)
		}
		return fmt.Sprintf("Brightness set to %d", v)
	}

	return ""
}

// setGroup performs a manual override: command first, then state. Repeated
// requests for the current state are harmless, the device treats them as a
// no-op and the state field simply keeps its value.
func (s *Server) setGroup(ctx context.Context, g state.Group, on bool) {
	action := device.ActionOff
	brightness := -1
	members := s.outlets
	if g == state.GroupLights {
		members = s.lights
	}
	if on {
		action = device.ActionOn
		if g == state.GroupLights {
			brightness = s.store.Brightness()
		}
	}

	if err := s.commander.Send(ctx, members, action, brightness); err != nil {
		log.Error().Err(err).Stringer("group", g).Msg("Manual command failed")
	}
	s.store.SetOn(g, on)

	log.Info().Stringer("group", g).Bool("on", on).Msg("Manual override")
}

func (s *Server) handleOffTime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.renderIndex(w, "Invalid form submission")
		return
	}

	clock, err := state.ParseClock(r.PostForm.Get("off_time"))
	if err != nil {
		// Rejected at the boundary, the store keeps the old value
		s.renderIndex(w, fmt.Sprintf("Invalid off-time: %v", err))
		return
	}

	s.store.SetOffTime(clock)
	s.renderIndex(w, fmt.Sprintf("Automatic off-time set to %s", clock))
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if s.logPath == "" {
		http.Error(w, "file logging not configured", http.StatusNotFound)
		return
	}

	data, err := tailFile(s.logPath, maxLogBytes)
	if err != nil {
		log.Warn().Err(err).Str("path", s.logPath).Msg("Failed to read log file")
		http.Error(w, "failed to read log", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()

	type eventView struct {
		Time   string `json:"time"`
		Group  string `json:"group"`
		Action string `json:"action"`
	}

	events := make([]eventView, 0, 4)
	for _, ev := range s.sched.PendingEvents() {
		events = append(events, eventView{
			Time:   ev.Time.In(s.tz).Format(time.RFC3339),
			Group:  ev.Group.String(),
			Action: ev.Action.String(),
		})
	}

	out := map[string]any{
		"lights": map[string]any{
			"on":            snap.LightsOn,
			"timer_enabled": snap.LightsTimer,
		},
		"outlets": map[string]any{
			"on":            snap.OutletsOn,
			"timer_enabled": snap.OutletsTimer,
		},
		"brightness": snap.Brightness,
		"off_time":   snap.OffTime.String(),
		"events":     events,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// tailFile returns up to limit trailing bytes of the file
func tailFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	if info.Size() > limit {
		if _, err := f.Seek(-limit, io.SeekEnd); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(f)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func enabledDisabled(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

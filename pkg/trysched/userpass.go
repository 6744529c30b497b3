package trysched

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/buildmill/tryd/pkg/broker"
	"github.com/buildmill/tryd/pkg/buildset"
	"github.com/buildmill/tryd/pkg/jobfile"
	"github.com/buildmill/tryd/pkg/types"
	"github.com/go-chi/chi/v5"
)

// maxJobSize bounds a single job submission body.
const maxJobSize = 64 << 20

// UserpassScheduler accepts authenticated job submissions and builder-list
// queries over the network, and streams build-completion notifications
// back to clients that keep their connection open.
type UserpassScheduler struct {
	name         string
	builderNames []string
	addr         string
	creds        map[string]string
	store        *buildset.MemStore
	br           *broker.Broker
	log          *slog.Logger

	mu     sync.Mutex
	active bool
	ln     net.Listener
	srv    *http.Server
	quit   chan struct{}
}

// NewUserpassScheduler returns an inactive scheduler. addr may use port 0;
// the bound address is discoverable through Addr after Start. creds maps
// usernames to passwords.
func NewUserpassScheduler(name string, builderNames []string, addr string,
	creds map[string]string, store *buildset.MemStore, br *broker.Broker,
	logger *slog.Logger) *UserpassScheduler {
	return &UserpassScheduler{
		name:         name,
		builderNames: builderNames,
		addr:         addr,
		creds:        creds,
		store:        store,
		br:           br,
		log:          logger.With("scheduler", name),
	}
}

// Start binds the listening socket and begins accepting connections.
func (s *UserpassScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(s.authenticate)
	r.Post("/jobs", s.handleSubmitJob)
	r.Get("/builders", s.handleListBuilders)
	r.Get("/buildsets", s.handleIndexBuildsets)
	r.Get("/buildsets/{id}", s.handleShowBuildset)
	r.Get("/buildsets/{id}/events", s.handleEvents)

	s.ln = ln
	s.srv = &http.Server{Handler: r}
	s.quit = make(chan struct{})
	s.active = true

	go func() {
		err := s.srv.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			s.log.Error("serve failed", "err", err)
		}
	}()

	s.log.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener and shuts the server down. Open event streams
// are severed; already-created buildsets and their builds are unaffected.
func (s *UserpassScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	srv, quit := s.srv, s.quit
	s.mu.Unlock()

	close(quit)
	return srv.Shutdown(ctx)
}

// Active reports whether the scheduler is accepting connections.
func (s *UserpassScheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Addr returns the bound network address, e.g. "127.0.0.1:35791". Valid
// only while the scheduler is active.
func (s *UserpassScheduler) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// authenticate validates the request's username/password pair against the
// configured credential set before any operation is accepted.
func (s *UserpassScheduler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok {
			want, known := s.creds[user]
			ok = known && subtle.ConstantTimeCompare([]byte(pass), []byte(want)) == 1
		}
		if !ok {
			s.log.Warn("rejected connection", "user", user, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="try"`)
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleSubmitJob decodes a job submission and creates exactly one
// buildset covering all of its builders.
func (s *UserpassScheduler) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJobSize))
	if err != nil {
		http.Error(w, "Error reading request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	r.Body.Close()

	j, err := jobfile.Decode(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for _, name := range j.BuilderNames {
		if !s.knownBuilder(name) {
			err := types.ErrUnknownBuilder{Builder: name}
			s.log.Warn("rejected job", "job", j.ID, "err", err)
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}

	bs, err := s.store.CreateBuildset(j.SourceStamp, j.BuilderNames, j.Comment)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error creating buildset for %s: %s", j.ID, err),
			http.StatusInternalServerError)
		return
	}
	s.log.Info("buildset created", "job", j.ID, "buildset", bs.ID, "builders", bs.BuilderNames)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, s.log, map[string]string{"buildset": bs.ID})
}

// handleListBuilders returns the builder whitelist. It has no side effect.
func (s *UserpassScheduler) handleListBuilders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.log, s.builderNames)
}

func (s *UserpassScheduler) handleIndexBuildsets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.log, s.store.Buildsets())
}

func (s *UserpassScheduler) handleShowBuildset(w http.ResponseWriter, r *http.Request) {
	bs, ok := s.store.Buildset(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.log, bs)
}

// handleEvents emits the buildset's completion notifications as
// Server-Sent Events. Results that were already terminal at subscription
// time are replayed first; duplicates are possible and harmless since
// events are keyed by builder name.
func (s *UserpassScheduler) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.store.Buildset(id); !ok {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := s.br.Subscribe(id)
	defer s.br.Unsubscribe(client)

	for builder, res := range s.store.TerminalResults(id) {
		s.writeEvent(w, types.BuildEvent{Buildset: id, Builder: builder, Status: res.Status, Text: res.Text})
	}
	flusher.Flush()

	for {
		select {
		case ev, ok := <-client.EventC:
			if !ok {
				return
			}
			s.writeEvent(w, ev)
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-s.quit:
			return
		}
	}
}

func (s *UserpassScheduler) writeEvent(w io.Writer, ev types.BuildEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("cannot marshal event", "err", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *UserpassScheduler) knownBuilder(name string) bool {
	for _, known := range s.builderNames {
		if name == known {
			return true
		}
	}
	return false
}

func writeJSON(w io.Writer, log *slog.Logger, v interface{}) {
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Error("cannot write response", "err", err)
	}
}

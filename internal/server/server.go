package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vk/gridcalc/internal/calc"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/reactive"
	"github.com/vk/gridcalc/internal/task"
	"github.com/zishang520/socket.io/v2/socket"
)

// Server publishes one graph. Graph access happens on the executor; socket.io
// callbacks post their work there.
type Server struct {
	logger *slog.Logger
	graph  *calc.Graph
	exec   task.Executor
	io     *socket.Server
	mux    *http.ServeMux

	watch   *reactive.Reaction
	watched map[*calc.Node]*subscription

	mu     sync.Mutex
	closed bool
}

type subscription struct {
	name        string
	unsubscribe func()
}

// New creates a server for g. Call Start on the executor before serving.
func New(ctx context.Context, g *calc.Graph, exec task.Executor) *Server {
	s := &Server{
		logger:  ctxlog.FromContext(ctx).With("graph", g.ID()),
		graph:   g,
		exec:    exec,
		io:      socket.NewServer(nil, nil),
		mux:     http.NewServeMux(),
		watched: make(map[*calc.Node]*subscription),
	}
	s.mux.Handle("/socket.io/", s.io.ServeHandler(nil))
	s.mux.HandleFunc("/health", s.healthHandler)
	s.io.On("connection", func(clients ...any) {
		client, ok := clients[0].(*socket.Socket)
		if !ok {
			return
		}
		s.onConnection(client)
	})
	return s
}

// Handler returns the HTTP handler serving socket.io and /health.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// Start begins watching the graph. It must run on the executor.
func (s *Server) Start() {
	s.watch = s.graph.Runtime().Autorun("server:"+s.graph.ID(), s.sync)
}

// sync subscribes to nodes that appeared and reports the ones that were
// renamed or removed since the last run.
func (s *Server) sync() {
	present := make(map[*calc.Node]bool)
	for _, n := range s.graph.Nodes() {
		present[n] = true
	}

	s.graph.Runtime().Untracked(func() {
		for n, sub := range s.watched {
			switch {
			case !present[n]:
				sub.unsubscribe()
				delete(s.watched, n)
				s.broadcast(UpdateMessage{Kind: KindRemoved, Node: sub.name})
			case n.Name() != sub.name:
				s.broadcast(UpdateMessage{Kind: KindRenamed, Node: n.Name(), From: sub.name})
				sub.name = n.Name()
			}
		}
		for n := range present {
			if _, ok := s.watched[n]; ok {
				continue
			}
			sub := &subscription{name: n.Name()}
			s.watched[n] = sub
			sub.unsubscribe = n.OnUpdate(func(u calc.Update) {
				if u.Kind == calc.Snapshot {
					state := stateOf(n)
					s.broadcast(UpdateMessage{Kind: KindInserted, Node: state.Name, Formula: state.Formula, Value: state.Value, Display: state.Display})
					return
				}
				if u.Kind == calc.ComponentChanged {
					return
				}
				s.broadcast(messageOf(n.Name(), u))
			})
		}
	})
}

func (s *Server) broadcast(msg UpdateMessage) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.logger.Debug("Broadcasting update.", "kind", msg.Kind, "node", msg.Node)
	s.io.Emit(EventUpdate, msg)
}

// Snapshot returns the state of every node in table order. It must run on
// the executor.
func (s *Server) Snapshot() []NodeState {
	var states []NodeState
	s.graph.Runtime().Untracked(func() {
		for _, n := range s.graph.Nodes() {
			states = append(states, stateOf(n))
		}
	})
	return states
}

func (s *Server) onConnection(client *socket.Socket) {
	logger := s.logger.With("client", client.Id())
	logger.Info("Client connected.")

	s.exec.Post(func() {
		client.Emit(EventSnapshot, s.Snapshot())
	})

	for _, op := range []string{EventInsert, EventEdit, EventRename, EventRemove} {
		client.On(op, func(data ...any) {
			edit, err := decodeEdit(data)
			if err != nil {
				client.Emit(EventRejected, Rejection{Op: op, Error: err.Error()})
				return
			}
			s.exec.Post(func() {
				if err := s.Apply(op, edit); err != nil {
					logger.Debug("Edit rejected.", "op", op, "node", edit.Name, "error", err)
					client.Emit(EventRejected, Rejection{Op: op, Node: edit.Name, Error: err.Error()})
				}
			})
		})
	}
	client.On("disconnect", func(...any) {
		logger.Info("Client disconnected.")
	})
}

func decodeEdit(data []any) (Edit, error) {
	var edit Edit
	if len(data) == 0 {
		return edit, errors.New("missing payload")
	}
	b, err := json.Marshal(data[0])
	if err != nil {
		return edit, fmt.Errorf("invalid payload: %w", err)
	}
	if err := json.Unmarshal(b, &edit); err != nil {
		return edit, fmt.Errorf("invalid payload: %w", err)
	}
	return edit, nil
}

// Apply performs a client edit. It must run on the executor.
func (s *Server) Apply(op string, edit Edit) error {
	var err error
	switch op {
	case EventInsert:
		_, err = s.graph.Insert(edit.Name, edit.Formula)
	case EventEdit:
		_, err = s.graph.Update(edit.Name, edit.Formula)
	case EventRename:
		formula := edit.Formula
		if formula == "" {
			if n := s.graph.Node(edit.From); n != nil {
				formula = n.Formula()
			}
		}
		_, err = s.graph.Rename(edit.From, edit.Name, formula)
	case EventRemove:
		err = s.graph.Remove(edit.Name)
	default:
		err = fmt.Errorf("unknown operation %q", op)
	}
	return err
}

// Close stops watching the graph and disconnects every client. It must run
// on the executor.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.watch != nil {
		s.watch.Dispose()
	}
	for n, sub := range s.watched {
		sub.unsubscribe()
		delete(s.watched, n)
	}
	s.io.Close(nil)
}

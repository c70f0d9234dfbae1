package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/yumao-zk/causalgraph/causal"
	"github.com/yumao-zk/causalgraph/util"
)

// Server relays causal histories between replicas. Each topic has one graph
// owned by the server's own replica; clients sync their node sets in and the
// server broadcasts the merged frontier back out.
//
// The graphs are not safe for concurrent use, and every request and
// websocket connection runs on its own goroutine, so mu guards topics,
// clients and all graph access. Holding it across connection writes also
// keeps concurrent replies from interleaving on one socket.
type Server struct {
	mu       sync.Mutex
	replica  causal.ReplicaID
	topics   map[string]*causal.Graph[causal.SpanNode]
	clients  map[string][]*websocket.Conn
	upgrader websocket.Upgrader
}

type WSMessage struct {
	Type    string     `json:"type"`
	Replica string     `json:"replica,omitempty"`
	Nodes   []WireNode `json:"nodes,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// WireNode is the transport form of one span node. Serialization lives
// here, at the boundary; the causal package never sees JSON.
type WireNode struct {
	Replica string   `json:"replica"`
	Counter int      `json:"counter"`
	Lamport uint64   `json:"lamport"`
	Len     int      `json:"len"`
	Deps    []WireID `json:"deps,omitempty"`
}

type WireID struct {
	Replica string `json:"replica"`
	Counter int    `json:"counter"`
}

type StateResponse struct {
	Frontier []WireID       `json:"frontier"`
	Version  map[string]int `json:"version"`
	Nodes    []WireNode     `json:"nodes"`
}

func toWireID(id causal.ID) WireID {
	return WireID{Replica: string(id.Replica), Counter: id.Counter}
}

func toWireNode(n causal.SpanNode) WireNode {
	deps := util.MapN(n.Deps(), func(id causal.ID) (WireID, error) {
		return toWireID(id), nil
	})
	return WireNode{
		Replica: string(n.ID().Replica),
		Counter: n.ID().Counter,
		Lamport: n.Lamport(),
		Len:     n.Len(),
		Deps:    deps,
	}
}

func fromWireNode(w WireNode) causal.SpanNode {
	deps := util.MapN(w.Deps, func(id WireID) (causal.ID, error) {
		return causal.ID{Replica: causal.ReplicaID(id.Replica), Counter: id.Counter}, nil
	})
	return causal.NewSpanNode(
		causal.ID{Replica: causal.ReplicaID(w.Replica), Counter: w.Counter},
		w.Lamport, w.Len, deps,
	)
}

func NewServer() *Server {
	return &Server{
		replica: causal.ReplicaID(uuid.NewString()),
		topics:  make(map[string]*causal.Graph[causal.SpanNode]),
		clients: make(map[string][]*websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// getTopic returns the topic's graph, creating it on first use. Callers
// hold s.mu.
func (s *Server) getTopic(name string) *causal.Graph[causal.SpanNode] {
	if g, exists := s.topics[name]; exists {
		return g
	}
	g := causal.NewSpanGraph(s.replica)
	s.topics[name] = g
	return g
}

func (s *Server) state(g *causal.Graph[causal.SpanNode]) StateResponse {
	frontier := util.MapN(g.Frontier(), func(id causal.ID) (WireID, error) {
		return toWireID(id), nil
	})
	nodes := util.MapN(g.Nodes(), func(n causal.SpanNode) (WireNode, error) {
		return toWireNode(n), nil
	})
	version := make(map[string]int)
	for replica, next := range g.Version() {
		version[string(replica)] = next
	}
	return StateResponse{Frontier: frontier, Version: version, Nodes: nodes}
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	length, _ := strconv.Atoi(r.URL.Query().Get("len"))

	log.Printf("APPEND: topic=%s len=%d", topic, length)

	s.mu.Lock()
	g := s.getTopic(topic)
	err := g.Push(length)
	var state StateResponse
	if err == nil {
		state = s.state(g)
	}
	s.mu.Unlock()

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(state)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	state := s.state(s.getTopic(r.URL.Query().Get("topic")))
	s.mu.Unlock()
	json.NewEncoder(w).Encode(state)
}

func parseID(raw string) (causal.ID, error) {
	replica, counter, ok := strings.Cut(raw, ":")
	if !ok {
		return causal.ID{}, fmt.Errorf("want replica:counter, got %q", raw)
	}
	n, err := strconv.Atoi(counter)
	if err != nil {
		return causal.ID{}, err
	}
	return causal.ID{Replica: causal.ReplicaID(replica), Counter: n}, nil
}

func (s *Server) handleAncestor(w http.ResponseWriter, r *http.Request) {
	a, errA := parseID(r.URL.Query().Get("a"))
	b, errB := parseID(r.URL.Query().Get("b"))
	if errA != nil || errB != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	ancestor, ok := s.getTopic(r.URL.Query().Get("topic")).CommonAncestor(a, b)
	s.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]any{
		"found":    ok,
		"ancestor": toWireID(ancestor),
	})
}

// broadcast sends msg to every client on the topic. Callers hold s.mu.
func (s *Server) broadcast(topic string, msg WSMessage) {
	if conns, exists := s.clients[topic]; exists {
		log.Printf("BROADCAST: sending %s to %d clients", msg.Type, len(conns))
		for _, conn := range conns {
			conn.WriteJSON(msg)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	topic := r.URL.Query().Get("topic")
	replica := r.URL.Query().Get("replica")
	if replica == "" {
		replica = uuid.NewString()
	}
	s.mu.Lock()
	s.clients[topic] = append(s.clients[topic], conn)
	log.Printf("CLIENT CONNECTED: topic=%s replica=%s total=%d", topic, replica, len(s.clients[topic]))
	state := s.state(s.getTopic(topic))
	conn.WriteJSON(WSMessage{Type: "init", Replica: replica, Nodes: state.Nodes})
	s.mu.Unlock()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		log.Printf("MESSAGE: type=%s replica=%s", msg.Type, replica)

		switch msg.Type {
		case "sync":
			nodes := util.MapN(msg.Nodes, func(wn WireNode) (causal.SpanNode, error) {
				return fromWireNode(wn), nil
			})
			remote, err := causal.FromNodes(causal.ReplicaID(replica), causal.NewSpanNode, nodes)

			s.mu.Lock()
			g := s.getTopic(topic)
			if err == nil {
				err = g.Merge(remote)
			}
			if err != nil {
				log.Printf("SYNC REJECTED: topic=%s replica=%s err=%v", topic, replica, err)
				conn.WriteJSON(WSMessage{Type: "error", Error: err.Error()})
				s.mu.Unlock()
				continue
			}
			s.broadcast(topic, WSMessage{Type: "update", Replica: replica, Nodes: s.state(g).Nodes})
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	for i, c := range s.clients[topic] {
		if c == conn {
			s.clients[topic] = append(s.clients[topic][:i], s.clients[topic][i+1:]...)
			break
		}
	}
	log.Printf("CLIENT DISCONNECTED: topic=%s remaining=%d", topic, len(s.clients[topic]))
	s.mu.Unlock()
}

func main() {
	var addr string

	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Causal history sync relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			server := NewServer()

			r := mux.NewRouter()
			r.HandleFunc("/ws", server.handleWebSocket)
			r.HandleFunc("/append", server.handleAppend).Methods(http.MethodPost)
			r.HandleFunc("/state", server.handleState).Methods(http.MethodGet)
			r.HandleFunc("/ancestor", server.handleAncestor).Methods(http.MethodGet)

			fmt.Printf("sync server starting on %s\n", addr)
			fmt.Printf("WebSocket API: ws://localhost%s/ws\n", addr)
			return http.ListenAndServe(addr, r)
		},
	}
	rootCmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

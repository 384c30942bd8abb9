// Backend is a stand-in bookstore service for exercising the proxy by hand.
// It serves /health and an orders resource under -prefix that answers with
// absolute redirects pointing at itself, so the proxy's Location rewriting
// is visible from the outside.
//
// Usage:
//
//	go run backend.go -port 8081 -prefix /orders
//	curl -i -X POST localhost:8080/orders/ -d '{"book":"dune"}'
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
)

// newUUID generates a random v4 UUID per RFC 4122.
func newUUID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%s-%s-%s-%s-%s",
		hex.EncodeToString(b[0:4]),
		hex.EncodeToString(b[4:6]),
		hex.EncodeToString(b[6:8]),
		hex.EncodeToString(b[8:10]),
		hex.EncodeToString(b[10:16]),
	)
}

type Order struct {
	ID     string `json:"id"`
	Book   string `json:"book"`
	Status string `json:"status"`
}

type orderStore struct {
	mu     sync.RWMutex
	orders map[string]Order
}

func (s *orderStore) add(book string) Order {
	o := Order{ID: newUUID(), Book: book, Status: "placed"}
	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()
	return o
}

func (s *orderStore) get(id string) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	prefix := flag.String("prefix", "/orders", "path the orders resource is mounted on")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	store := &orderStore{orders: make(map[string]Order)}
	base := strings.TrimSuffix(*prefix, "/")

	// self builds an absolute URL on this server, the way a servlet
	// container would for sendRedirect.
	self := func(r *http.Request, path string) string {
		return "http://" + r.Host + base + path
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST "+base+"/{$}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Book string `json:"book"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Book == "" {
			http.Error(w, "invalid order", http.StatusBadRequest)
			return
		}

		o := store.add(req.Book)
		log.Info("order created", slog.String("id", o.ID), slog.String("book", o.Book))

		w.Header().Set("Location", self(r, "/"+o.ID))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(o)
	})

	mux.HandleFunc("GET "+base+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, ok := store.get(id); !ok {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, self(r, "/"+id+"/status"), http.StatusFound)
	})

	mux.HandleFunc("GET "+base+"/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		o, ok := store.get(r.PathValue("id"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(o)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		log.Info("request", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("from", r.RemoteAddr))
		http.NotFound(w, r)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Info("starting backend", slog.String("addr", addr), slog.String("prefix", base))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

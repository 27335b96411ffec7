// Package server exposes the read API over HTTP. Handlers are thin
// wrappers over the store and the snapshot cache; writes happen only
// through the ingest path, never here.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ohler55/ojg/oj"
	"go.uber.org/zap"

	"github.com/auctionlens/itemtrack/api"
	"github.com/auctionlens/itemtrack/internal/snapshot"
	"github.com/auctionlens/itemtrack/internal/store"
)

type Server struct {
	store *store.Store
	cache *snapshot.Cache
	lg    *zap.Logger
}

func New(st *store.Store, cache *snapshot.Cache, lg *zap.Logger) *Server {
	return &Server{store: st, cache: cache, lg: lg}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/categories", s.handleCategories)
	mux.HandleFunc("GET /items/bazaar/tags", s.handleBazaarTags)
	mux.HandleFunc("GET /items/ids", s.handleIDs)
	mux.HandleFunc("GET /items/search/{term}", s.handleSearch)
	mux.HandleFunc("GET /items/search/{term}/id", s.handleSearchID)
	mux.HandleFunc("GET /item/{tag}/modifiers", s.handleItemModifiers)
	mux.HandleFunc("GET /item/modifiers", s.handleAllModifiers)
	return mux
}

// ListenAndServe runs the HTTP server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.lg.Info("http server listening", zap.String("addr", addr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	cats := api.Categories()
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, c.String())
	}
	s.writeJSON(w, names)
}

func (s *Server) handleBazaarTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.TagsWithFlag(r.Context(), api.FlagBazaar)
	if err != nil {
		s.fail(w, "bazaar tags", err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	s.writeJSON(w, tags)
}

func (s *Server) handleIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.AllIDs(r.Context())
	if err != nil {
		s.fail(w, "item ids", err)
		return
	}
	s.writeJSON(w, ids)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := r.PathValue("term")
	results, err := s.store.Search(r.Context(), term, 20)
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	if results == nil {
		results = []api.SearchResult{}
	}
	s.writeJSON(w, results)
}

// handleSearchID resolves a term to the top-ranked item's row id, zero
// when nothing matches.
func (s *Server) handleSearchID(w http.ResponseWriter, r *http.Request) {
	term := r.PathValue("term")
	results, err := s.store.Search(r.Context(), term, 1)
	if err != nil {
		s.fail(w, "search id", err)
		return
	}
	var id int64
	if len(results) > 0 {
		ids, err := s.store.ItemIDs(r.Context(), []string{results[0].Tag})
		if err != nil {
			s.fail(w, "search id", err)
			return
		}
		id = ids[results[0].Tag]
	}
	s.writeJSON(w, id)
}

func (s *Server) handleItemModifiers(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	mods, err := s.store.ModifiersForItem(r.Context(), tag)
	if err != nil {
		s.fail(w, "item modifiers", err)
		return
	}
	s.writeJSON(w, mods)
}

func (s *Server) handleAllModifiers(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	view, err := s.cache.Get(r.Context(), force)
	if err != nil {
		s.fail(w, "modifier snapshot", err)
		return
	}
	s.writeJSON(w, view)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	body, err := oj.Marshal(v)
	if err != nil {
		s.fail(w, "encode response", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.lg.Error(op, zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

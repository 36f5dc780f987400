package search

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/eklundh/strandr/internal/query"
	apperrors "github.com/eklundh/strandr/pkg/errors"
	"github.com/eklundh/strandr/pkg/logger"
)

// Handler exposes the search service over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Search handles GET /search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &Request{
		Corpora:         splitList(q.Get("corpora")),
		Text:            q.Get("text"),
		Field:           q.Get("field"),
		WordFormOnly:    boolParam(q.Get("word_form_only")),
		InOrder:         boolParam(q.Get("in_order")),
		SimpleHighlight: boolParam(q.Get("simple_highlight")),
	}
	var err error
	if req.From, err = intParam(q.Get("from"), 0); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidQuery, 400, "from: %v", err))
		return
	}
	if req.To, err = intParam(q.Get("to"), 0); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidQuery, 400, "to: %v", err))
		return
	}
	if req.TextFilter, err = query.ParseTextFilter(q.Get("text_filter")); err != nil {
		h.writeError(w, r, err)
		return
	}

	env, err := h.service.Search(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, env)
}

// GetDocument handles GET /document/{corpus}/{id}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lookup := TokenLookup{}
	if v := q.Get("token_lookup_from"); v != "" {
		from, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidQuery, 400, "token_lookup_from: %v", err))
			return
		}
		lookup.From = &from
	}
	if v := q.Get("token_lookup_to"); v != "" {
		to, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidQuery, 400, "token_lookup_to: %v", err))
			return
		}
		lookup.To = &to
	}
	item, err := h.service.GetDocument(r.Context(), r.PathValue("corpus"), r.PathValue("id"), lookup)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

// SearchInDocument handles GET /search-in-document/{corpus}/{id}.
func (h *Handler) SearchInDocument(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("text")
	if text == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidQuery, 400, "text is required"))
		return
	}
	currentPosition, err := intParam(q.Get("current_position"), -1)
	if err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidQuery, 400, "current_position: %v", err))
		return
	}
	size, err := intParam(q.Get("size"), 0)
	if err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidQuery, 400, "size: %v", err))
		return
	}
	forward := q.Get("forward") != "false"

	item, err := h.service.SearchInDocument(r.Context(),
		r.PathValue("corpus"), r.PathValue("id"), text, q.Get("field"),
		currentPosition, size, forward)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

// Related handles GET /related/{corpus}/{id}.
func (h *Handler) Related(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := intParam(q.Get("from"), 0)
	if err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidQuery, 400, "from: %v", err))
		return
	}
	to, err := intParam(q.Get("to"), 0)
	if err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidQuery, 400, "to: %v", err))
		return
	}
	env, err := h.service.Related(r.Context(),
		r.PathValue("corpus"), r.PathValue("id"), splitList(q.Get("search_corpora")), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, env)
}

// FieldValues handles GET /aggs/{corpus}/{field}.
func (h *Handler) FieldValues(w http.ResponseWriter, r *http.Request) {
	aggs, err := h.service.FieldValues(r.Context(), r.PathValue("corpus"), r.PathValue("field"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"aggregations": aggs})
}

// Lemgrams handles GET /lemgrams.
func (h *Handler) Lemgrams(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("term")
	if term == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidQuery, 400, "term is required"))
		return
	}
	lemgrams, err := h.service.Lemgrams(r.Context(), term)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"term": term, "lemgrams": lemgrams})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("writing response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		log.Info("request rejected", "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func boolParam(raw string) bool {
	return raw == "true" || raw == "1"
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

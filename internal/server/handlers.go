package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	binderrors "github.com/conneroisu/tmplbind/internal/errors"
	"github.com/conneroisu/tmplbind/internal/middleware"
	"github.com/conneroisu/tmplbind/internal/version"
)

// maxRenderBody caps the size of a render request body.
const maxRenderBody = 1 << 20

// liveScript reloads the page whenever the server reports a change. The
// verb is replaced by the CSP nonce attribute, if any.
const liveScript = `<script%s>(function(){var p=location.protocol==="https:"?"wss:":"ws:";` +
	`var ws=new WebSocket(p+"//"+location.host+"/ws");` +
	`ws.onmessage=function(){location.reload();};})();</script>`

// RenderRequest is the body of POST /render/{name}.
type RenderRequest struct {
	Data     any    `json:"data"`
	Selector string `json:"selector"`
}

// RenderResponse answers POST /render/{name}. Markup is set when no
// selector was given; Regions otherwise.
type RenderResponse struct {
	Name    string `json:"name"`
	Markup  string `json:"markup,omitempty"`
	Regions int    `json:"regions"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Name  string `json:"name,omitempty"`
}

// handleIndex serves the bound document with the live reload script.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	html, err := s.Binder().Document().HTML()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	nonceAttr := ""
	if nonce := middleware.NonceFromContext(r.Context()); nonce != "" {
		nonceAttr = fmt.Sprintf(` nonce="%s"`, nonce)
	}
	script := fmt.Sprintf(liveScript, nonceAttr)

	if i := strings.LastIndex(html, "</body>"); i >= 0 {
		html = html[:i] + script + html[i:]
	} else {
		html += script
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

// handleHealth returns the server health status for health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	b := s.Binder()

	s.clientsMutex.RLock()
	clients := len(s.clients)
	s.clientsMutex.RUnlock()

	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version.GetShortVersion(),
		"templates": b.Cache().Len(),
		"bindings":  b.Registry().Count(),
		"clients":   clients,
	})
}

// handleBindings lists every bound name.
func (s *Server) handleBindings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.Binder().Bindings())
}

// handleRender renders the named template. Without a selector the markup
// is returned; with one it is written into the selected regions.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req RenderRequest
	if r.Body != nil {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRenderBody))
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
	}

	b := s.Binder()
	resp := RenderResponse{Name: name}

	if req.Selector == "" {
		markup, err := b.Render(r.Context(), name, req.Data)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Markup = markup
	} else {
		n, err := b.RenderInto(r.Context(), name, req.Data, req.Selector)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Regions = n
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

// handleRescan re-scans the document, replacing existing bindings.
func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	result, err := s.Binder().Rescan(r.Context(), true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, binderrors.ErrTemplateNotFound):
		status = http.StatusNotFound
	case errors.Is(err, binderrors.ErrInvalidSelector):
		status = http.StatusBadRequest
	case errors.Is(err, binderrors.ErrNotMarkupRenderer), errors.Is(err, binderrors.ErrReentrantRender):
		status = http.StatusConflict
	}

	resp := errorResponse{Error: err.Error(), Name: binderrors.NameOf(err)}
	var be *binderrors.BindError
	if errors.As(err, &be) {
		resp.Code = be.Code
	}

	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "Request failed", "path", r.URL.Path)
	}
	s.writeJSON(w, r, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(r.Context(), err, "Failed to encode response", "path", r.URL.Path)
	}
}

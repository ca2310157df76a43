// Package server implements the local artifact server: a PEP 503/691 simple
// index over the wheels built (and pre-built wheels fetched) so far, which
// build environments install their requirements from.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/index"
	"github.com/lpar/gzipped/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

// DefaultAddr binds to a free port on the loopback interface.
const DefaultAddr = "localhost:0"

// Server serves the artifacts of Dirs. The base name of each directory is the
// area it is published under (/files/<area>/<filename>), so base names must be
// unique.
type Server struct {
	Dirs []string
	Addr string
	Log  logrus.FieldLogger

	mu   sync.Mutex
	srv  *http.Server
	addr string
	eg   errgroup.Group
}

// Start binds the listening socket and starts serving in the background.
// Calling Start on a running server does nothing.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	addr := s.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{Handler: s.Handler()}
	srv := s.srv
	s.eg.Go(func() error {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if s.Log != nil {
		s.Log.Infof("serving %s on %s", strings.Join(s.Dirs, ", "), s.URL())
	}
	return nil
}

// ListenAddr returns the address the server listens on, once started.
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// URL returns the base URL of the simple index.
func (s *Server) URL() string {
	return "http://" + s.addr + "/simple/"
}

// Stop shuts the server down, waiting for active requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	return s.eg.Wait()
}

// Wait blocks until the server stops serving, returning the serve error.
func (s *Server) Wait() error {
	return s.eg.Wait()
}

// Handler returns the HTTP handler of the server, for use without Start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/simple/", s.handleSimple)
	for _, dir := range s.Dirs {
		prefix := "/files/" + filepath.Base(dir)
		mux.Handle(prefix+"/", http.StripPrefix(prefix, gzipped.FileServer(gzipped.Dir(dir))))
	}
	return mux
}

func (s *Server) local() *index.Local {
	return &index.Local{Dirs: s.Dirs}
}

func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == index.ContentTypeJSON {
		return true
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		params := strings.Split(part, ";")
		if strings.TrimSpace(params[0]) != index.ContentTypeJSON {
			continue
		}
		q := 1.0
		for _, p := range params[1:] {
			if v := strings.TrimSpace(p); strings.HasPrefix(v, "q=") {
				q, _ = strconv.ParseFloat(strings.TrimPrefix(v, "q="), 64)
			}
		}
		return q > 0
	}
	return false
}

func (s *Server) handleSimple(w http.ResponseWriter, r *http.Request) {
	if s.Log != nil {
		s.Log.WithField("path", r.URL.Path).Debugf("%s", r.Method)
	}
	rest := strings.TrimPrefix(r.URL.Path, "/simple/")
	if rest == "" {
		s.serveProjects(w, r)
		return
	}
	project := strings.TrimSuffix(rest, "/")
	if strings.Contains(project, "/") {
		http.NotFound(w, r)
		return
	}
	if norm := whey.NormalizeName(project); norm != project || !strings.HasSuffix(rest, "/") {
		u := *r.URL
		u.Path = "/simple/" + norm + "/"
		http.Redirect(w, r, u.String(), http.StatusMovedPermanently)
		return
	}
	s.serveProject(w, r, project)
}

func (s *Server) serveProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.local().Projects()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if wantsJSON(r) {
		list := index.ProjectList{
			Meta:     index.Meta{APIVersion: "1.0"},
			Projects: make([]index.ProjectRef, len(projects)),
		}
		for i, p := range projects {
			list.Projects[i].Name = p
		}
		if err := json.NewEncoder(&buf).Encode(&list); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", index.ContentTypeJSON)
	} else {
		buf.WriteString("<!DOCTYPE html>\n<html><head><title>Simple index</title></head><body>\n")
		for _, p := range projects {
			fmt.Fprintf(&buf, "<a href=\"%s/\">%s</a><br>\n", url.PathEscape(p), html.EscapeString(p))
		}
		buf.WriteString("</body></html>\n")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	w.Write(buf.Bytes())
}

// fileURL is relative to /simple/<project>/.
func fileURL(f index.File) string {
	area := filepath.Base(filepath.Dir(f.Path))
	return "../../files/" + url.PathEscape(area) + "/" + url.PathEscape(f.Filename)
}

func (s *Server) serveProject(w http.ResponseWriter, r *http.Request, project string) {
	files, err := s.local().Files(r.Context(), project)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(files) == 0 {
		http.NotFound(w, r)
		return
	}
	var buf bytes.Buffer
	if wantsJSON(r) {
		page := index.ProjectPage{
			Meta:  index.Meta{APIVersion: "1.0"},
			Name:  project,
			Files: make([]index.JSONFile, len(files)),
		}
		for i, f := range files {
			page.Files[i] = index.JSONFile{
				Filename: f.Filename,
				URL:      fileURL(f),
				Hashes:   map[string]string{},
			}
		}
		if err := json.NewEncoder(&buf).Encode(&page); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", index.ContentTypeJSON)
	} else {
		fmt.Fprintf(&buf, "<!DOCTYPE html>\n<html><head><title>Links for %s</title></head><body>\n", html.EscapeString(project))
		fmt.Fprintf(&buf, "<h1>Links for %s</h1>\n", html.EscapeString(project))
		for _, f := range files {
			fmt.Fprintf(&buf, "<a href=\"%s\">%s</a><br>\n", html.EscapeString(fileURL(f)), html.EscapeString(f.Filename))
		}
		buf.WriteString("</body></html>\n")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

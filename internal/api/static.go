package api

import (
	"net/http"
	"os"
	"path/filepath"
)

// mountFrontend serves index.html at / and the rest of the directory under
// /static/. Nothing is mounted when the directory does not exist.
func (s *Server) mountFrontend() {
	dir := s.opts.StaticDir
	if dir == "" {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		s.logger.Info("frontend disabled", "static_dir", dir)
		return
	}

	index := filepath.Join(dir, "index.html")
	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, index)
	})
	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(dir))))
}

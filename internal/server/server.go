// Package server exposes the application over HTTP: a JSON API, a
// WebSocket event stream, and the embedded single-page UI.
package server

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"
)

const shutdownTimeout = 5 * time.Second

func Handler(staticFS fs.FS, hub *Hub, deps Deps) (http.Handler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	registerWSRoute(mux, hub)
	registerAPIRoutes(mux, newAPI(deps))

	mux.HandleFunc("/", serveSPA(staticFS))

	return mux, nil
}

// Serve runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: web UI listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func serveSPA(staticFS fs.FS) func(http.ResponseWriter, *http.Request) {
	fileServer := http.FileServer(http.FS(staticFS))
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" {
			http.NotFound(w, r)
			return
		}

		if r.URL.Path == "/manifest.json" || r.URL.Path == "/manifest.webmanifest" {
			w.Header().Set("Content-Type", "application/manifest+json")
		}

		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath != "." && !strings.Contains(cleanPath, ".") {
			// Client-side routes all render the app shell.
			http.ServeFileFS(w, r, staticFS, "index.html")
			return
		}
		if cleanPath == "." {
			r.URL.Path = "/"
		} else {
			r.URL.Path = "/" + cleanPath
		}

		fileServer.ServeHTTP(w, r)
	}
}

// Package web serves a prebuilt frontend embedded into the binary. Copy the
// frontend build output into dist/ before compiling to enable it.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
)

//go:embed all:dist
var staticFiles embed.FS

const indexFile = "index.html"

// FileSystem returns the embedded filesystem with the dist folder as root.
func FileSystem() (fs.FS, error) {
	return fs.Sub(staticFiles, "dist")
}

// HasEmbeddedFiles returns true if a frontend build has been embedded.
func HasEmbeddedFiles() bool {
	return hasIndex(staticFiles, "dist")
}

func hasIndex(fsys fs.FS, dir string) bool {
	_, err := fs.Stat(fsys, path.Join(dir, indexFile))
	return err == nil
}

// RegisterStaticRoutes serves the embedded frontend for every non-API path.
// The API routes should be registered before calling this function.
func RegisterStaticRoutes(e *echo.Echo) error {
	staticFS, err := FileSystem()
	if err != nil {
		return err
	}
	e.GET("/*", NewSPAHandler(staticFS))
	return nil
}

// NewSPAHandler serves files from fsys and falls back to index.html so the
// client-side router can resolve unknown paths. Unknown /api paths stay 404.
func NewSPAHandler(fsys fs.FS) echo.HandlerFunc {
	fileServer := http.FileServer(http.FS(fsys))

	return func(c echo.Context) error {
		requestPath := path.Clean(c.Request().URL.Path)
		if requestPath == "/api" || strings.HasPrefix(requestPath, "/api/") {
			return echo.ErrNotFound
		}

		name := strings.TrimPrefix(requestPath, "/")
		if name == "" {
			name = "."
		}
		info, err := fs.Stat(fsys, name)
		if err != nil || (info.IsDir() && !hasIndex(fsys, name)) {
			return serveIndexHTML(c, fsys)
		}

		fileServer.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

// serveIndexHTML serves the main index.html for SPA routing
func serveIndexHTML(c echo.Context, fsys fs.FS) error {
	content, err := fs.ReadFile(fsys, indexFile)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "index.html not found")
	}
	return c.HTMLBlob(http.StatusOK, content)
}

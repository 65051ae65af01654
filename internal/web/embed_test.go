package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestSPAHandler(t *testing.T) {
	fsys := fstest.MapFS{
		"index.html":         {Data: []byte("<html>pneumoai</html>")},
		"assets/app.js":      {Data: []byte("console.log('app')")},
		"docs/index.html":    {Data: []byte("<html>docs</html>")},
		"images/placeholder": {Data: []byte("x")},
	}

	e := echo.New()
	e.GET("/*", NewSPAHandler(fsys))

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"root", "/", http.StatusOK, "<html>pneumoai</html>"},
		{"asset", "/assets/app.js", http.StatusOK, "console.log('app')"},
		{"client route", "/results", http.StatusOK, "<html>pneumoai</html>"},
		{"directory with index", "/docs/", http.StatusOK, "<html>docs</html>"},
		{"directory without index", "/images", http.StatusOK, "<html>pneumoai</html>"},
		{"unknown api path", "/api/unknown", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHasEmbeddedFiles(t *testing.T) {
	// The repository ships dist/ without a build.
	assert.False(t, HasEmbeddedFiles())
}

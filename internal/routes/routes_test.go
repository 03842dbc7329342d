package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A panicking handler must surface as a 500, not kill the connection. The
// recovery middleware only covers routes registered after it, so this guards
// the registration order inside SetupRouter.
func TestSetupRouterRecoversFromPanics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter()
	r.GET("/boom", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSetupRouterRegistersAllAreas(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter()

	paths := map[string]bool{}
	for _, route := range r.Routes() {
		paths[route.Method+" "+route.Path] = true
	}

	for _, want := range []string{
		"POST /auth/signup",
		"POST /auth/login",
		"GET /calendar/",
		"POST /calendar/",
		"GET /calendar/routes/",
		"POST /calendar/routes/optimize",
		"POST /calendar/schedules/auto-assign",
		"GET /ws/schedule-events",
	} {
		require.True(t, paths[want], "missing route %s", want)
	}
}

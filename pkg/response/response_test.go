package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	apperr "SafeCircle/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestSuccessEnvelope(t *testing.T) {
	c, w := newContext()
	Created(c, "created", gin.H{"id": "1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	env := decode(t, w)
	assert.True(t, env.Success)
	assert.Equal(t, "created", env.Message)
}

func TestErrorEnvelopeCarriesCode(t *testing.T) {
	c, w := newContext()
	Error(c, apperr.Authorization("only admins can do that"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	env := decode(t, w)
	assert.False(t, env.Success)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, apperr.CodeAuthorization, env.Errors[0].Code)
}

func TestUnexpectedErrorIsOpaque(t *testing.T) {
	c, w := newContext()
	Error(c, fmt.Errorf("dial tcp 10.0.0.1:5432: refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.1")
	env := decode(t, w)
	assert.Equal(t, apperr.CodeServer, env.Errors[0].Code)
}

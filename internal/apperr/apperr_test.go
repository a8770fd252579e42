package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPErrorClassifiesRateLimit(t *testing.T) {
	err := HTTPError(http.StatusTooManyRequests, nil)
	assert.Equal(t, KindRateLimited, err.Kind)
	assert.Equal(t, 429, err.Status)

	err = HTTPError(http.StatusUnauthorized, errors.New("bad key"))
	assert.Equal(t, KindHTTP, err.Kind)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "bad key")
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(KindEmptyResult, "no flashcards survived validation", nil)
	wrapped := fmt.Errorf("generate flashcards: %w", base)

	assert.True(t, Is(wrapped, KindEmptyResult))
	assert.False(t, Is(wrapped, KindTransport))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindEmptyResult))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{UserInput("topic is required"), http.StatusBadRequest},
		{New(KindNotFound, "missing", nil), http.StatusNotFound},
		{HTTPError(429, nil), http.StatusTooManyRequests},
		{New(KindTimeout, "poll", nil), http.StatusGatewayTimeout},
		{New(KindNoJSONFound, "", nil), http.StatusUnprocessableEntity},
		{New(KindEmptyResult, "", nil), http.StatusUnprocessableEntity},
		{New(KindTransport, "", nil), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatus(tt.err), tt.err.Error())
	}
}

package httpserver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"
	"mellium.im/xmpp/jid"

	"courier/internal/router"
	"courier/internal/stanza"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) Health(ctx context.Context) error { return f(ctx) }

type HTTPServerSuite struct {
	suite.Suite
}

func TestHTTPServerSuite(t *testing.T) {
	suite.Run(t, new(HTTPServerSuite))
}

func (s *HTTPServerSuite) TestHealthz() {
	s.Run("all checks passing", func() {
		h := NewRouter(map[string]HealthChecker{
			"redis": checkFunc(func(context.Context) error { return nil }),
		}, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("failing check names the resource", func() {
		h := NewRouter(map[string]HealthChecker{
			"redis": checkFunc(func(context.Context) error { return errors.New("connection refused") }),
		}, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		s.Equal(http.StatusServiceUnavailable, rec.Code)
		s.Contains(rec.Body.String(), "redis")
	})
}

func (s *HTTPServerSuite) TestStanzaIntake() {
	encoded := func(st stanza.Stanza) []byte {
		raw, err := stanza.Encode(st)
		s.Require().NoError(err)
		return raw
	}

	s.Run("accepted stanza reaches the intake", func() {
		var got stanza.Stanza
		h := NewRouter(nil, func(_ context.Context, st stanza.Stanza) error {
			got = st
			return nil
		})

		msg := &stanza.Message{Type: stanza.MessageChat, Body: "hello"}
		msg.SetFrom(jid.MustParse("ops@localhost/cli"))
		msg.SetTo(jid.MustParse("alice@localhost/desk"))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/stanzas", bytes.NewReader(encoded(msg))))
		s.Equal(http.StatusAccepted, rec.Code)
		s.Require().NotNil(got)
		s.Equal("alice@localhost/desk", got.To().String())
	})

	s.Run("undecodable payload is a bad request", func() {
		h := NewRouter(nil, func(context.Context, stanza.Stanza) error { return nil })
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/stanzas", bytes.NewReader([]byte("not a stanza"))))
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("malformed target is the caller's fault", func() {
		h := NewRouter(nil, func(context.Context, stanza.Stanza) error { return router.ErrMalformedTarget })

		p := &stanza.Presence{Type: stanza.PresenceAvailable}
		p.SetFrom(jid.MustParse("ops@localhost/cli"))
		p.SetTo(jid.MustParse("alice@localhost"))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/stanzas", bytes.NewReader(encoded(p))))
		s.Equal(http.StatusUnprocessableEntity, rec.Code)
	})

	s.Run("intake failure is a server error", func() {
		h := NewRouter(nil, func(context.Context, stanza.Stanza) error { return errors.New("store down") })

		msg := &stanza.Message{Type: stanza.MessageChat, Body: "hello"}
		msg.SetTo(jid.MustParse("alice@localhost/desk"))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/stanzas", bytes.NewReader(encoded(msg))))
		s.Equal(http.StatusInternalServerError, rec.Code)
	})

	s.Run("without an intake the endpoint does not exist", func() {
		h := NewRouter(nil, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/stanzas", bytes.NewReader([]byte("{}"))))
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

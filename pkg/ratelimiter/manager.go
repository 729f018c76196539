package ratelimiter

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lowc1012/adaptive-ratelimiter/internal/log"
	"github.com/lowc1012/adaptive-ratelimiter/internal/ratelimiter"
	"github.com/lowc1012/adaptive-ratelimiter/internal/utils"
)

// Config defines the configuration for the rate limiter handler.
type Config struct {
	// Checker decides every request. Required.
	Checker ratelimiter.Checker
	// User extracts the authenticated user id. A failed extraction means an
	// anonymous request.
	User utils.Extractor
	// Address extracts the client address. Defaults to RemoteAddr.
	Address utils.Extractor
	// Route extracts the route template. Defaults to the URL path.
	Route utils.Extractor
	// Guard, when set, rejects locked accounts before limiting.
	Guard *ratelimiter.Guard

	now func() time.Time
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.Address == nil {
		cfg.Address = utils.NewClientIPExtractor(false)
	}
	if cfg.Route == nil {
		cfg.Route = utils.NewRouteExtractor()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &cfg
}

// Subject builds the limiter subject of r.
func (c *Config) Subject(r *http.Request) (ratelimiter.Subject, error) {
	var s ratelimiter.Subject
	if c.User != nil {
		if id, err := c.User.Extract(r); err == nil {
			s.ID = id
		} else if !errors.Is(err, utils.ErrNoValue) {
			return s, err
		}
	}
	if s.ID == "" {
		addr, err := c.Address.Extract(r)
		if err != nil {
			return s, errors.Join(err, ratelimiter.ErrInvalidKey)
		}
		s.Address = addr
	}
	route, err := c.Route.Extract(r)
	if err != nil {
		return s, errors.Join(err, ratelimiter.ErrInvalidKey)
	}
	s.Route = route
	return s, nil
}

type httpRateLimiterHandler struct {
	handler http.Handler
	config  *Config
}

// NewHTTPRateLimiterHandler wraps an existing http.Handler object performing rate limiting before
// sending the request to the wrapped handler. If any errors happen while trying to rate limit a request
// or if the request is denied, the rate limiting handler will send a response to the client and will not
// call the wrapped handler.
func NewHTTPRateLimiterHandler(originalHandler http.Handler, config *Config) http.Handler {
	return &httpRateLimiterHandler{
		handler: originalHandler,
		config:  config.withDefaults(),
	}
}

// Middleware is NewHTTPRateLimiterHandler in the func(http.Handler) http.Handler form.
func Middleware(config *Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return NewHTTPRateLimiterHandler(next, config)
	}
}

func (h *httpRateLimiterHandler) writeResponse(writer http.ResponseWriter, body ErrorBody) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(body.StatusCode)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		log.Logger().Warn("failed to write body to HTTP response", zap.Error(err))
	}
}

// ServeHTTP performs rate limiting with the configuration it was provided and if there were no errors
// and the request was allowed it is sent to the wrapped handler. It also adds rate limiting headers that will be
// sent to the client to make it aware of what state it is in terms of rate limiting.
func (h *httpRateLimiterHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()
	subject, err := h.config.Subject(request)
	if err == nil {
		err = subject.Validate()
	}
	if err != nil {
		h.writeResponse(writer, Failure(err, h.config.now()))
		return
	}

	if h.config.Guard != nil && subject.ID != "" {
		info, err := h.config.Guard.IsLocked(ctx, subject.ID)
		if err != nil {
			log.Logger().Error("account lock check failed", zap.String("user", subject.ID), zap.Error(err))
			h.writeResponse(writer, Failure(err, h.config.now()))
			return
		}
		if info != nil {
			h.writeResponse(writer, Locked(info, h.config.now()))
			return
		}
	}

	decision, err := h.config.Checker.Check(ctx, subject)
	if err != nil {
		if !errors.Is(err, ratelimiter.ErrInvalidKey) {
			log.Logger().Error("rate limit check failed",
				zap.String("identifier", subject.Identifier()),
				zap.String("route", subject.Route),
				zap.Error(err))
		}
		h.writeResponse(writer, Failure(err, h.config.now()))
		return
	}

	// set the rate limiting headers both on allow or deny results so the client knows what is going on
	SetHeaders(writer.Header(), decision)

	if !decision.Allowed {
		h.writeResponse(writer, Exceeded(decision, h.config.now()))
		return
	}

	// the wrapped handler is only called once and doesn't have to know there was rate limiting happening
	h.handler.ServeHTTP(writer, request)
}

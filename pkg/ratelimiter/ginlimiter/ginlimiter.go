// Package ginlimiter enforces rate limits for gin routers.
package ginlimiter

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lowc1012/adaptive-ratelimiter/internal/log"
	"github.com/lowc1012/adaptive-ratelimiter/internal/ratelimiter"
	httplimiter "github.com/lowc1012/adaptive-ratelimiter/pkg/ratelimiter"
)

// SubjectFunc resolves the limiter subject from the request.
type SubjectFunc func(*gin.Context) (ratelimiter.Subject, error)

// Options configure the Gin middleware behavior.
type Options struct {
	// UserHeader carries the authenticated user id, default X-User-ID.
	UserHeader string
	// Guard, when set, rejects locked accounts before limiting.
	Guard *ratelimiter.Guard
	Now   func() time.Time
}

// Middleware enforces checker for incoming Gin requests.
func Middleware(checker ratelimiter.Checker, subjectFunc SubjectFunc, opts Options) gin.HandlerFunc {
	if subjectFunc == nil {
		subjectFunc = DefaultSubjectFunc(opts.UserHeader)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		subject, err := subjectFunc(c)
		if err == nil {
			err = subject.Validate()
		}
		if err != nil {
			respond(c, httplimiter.Failure(errors.Join(err, ratelimiter.ErrInvalidKey), opts.Now()))
			return
		}

		if opts.Guard != nil && subject.ID != "" {
			info, err := opts.Guard.IsLocked(ctx, subject.ID)
			if err != nil {
				log.Logger().Error("account lock check failed", zap.String("user", subject.ID), zap.Error(err))
				respond(c, httplimiter.Failure(err, opts.Now()))
				return
			}
			if info != nil {
				respond(c, httplimiter.Locked(info, opts.Now()))
				return
			}
		}

		d, err := checker.Check(ctx, subject)
		if err != nil {
			if !errors.Is(err, ratelimiter.ErrInvalidKey) {
				log.Logger().Error("rate limit check failed",
					zap.String("identifier", subject.Identifier()),
					zap.String("route", subject.Route),
					zap.Error(err))
			}
			respond(c, httplimiter.Failure(err, opts.Now()))
			return
		}

		httplimiter.SetHeaders(c.Writer.Header(), d)
		if !d.Allowed {
			respond(c, httplimiter.Exceeded(d, opts.Now()))
			return
		}

		c.Next()
	}
}

// DefaultSubjectFunc uses the user header when present, else the client IP
// as resolved by gin's trusted proxy settings. The route is the registered
// route template.
func DefaultSubjectFunc(header string) SubjectFunc {
	if header == "" {
		header = "X-User-ID"
	}
	return func(c *gin.Context) (ratelimiter.Subject, error) {
		s := ratelimiter.Subject{Route: c.FullPath()}
		if s.Route == "" {
			s.Route = c.Request.URL.Path
		}
		if id := strings.TrimSpace(c.GetHeader(header)); id != "" {
			s.ID = id
			return s, nil
		}
		if ip := c.ClientIP(); ip != "" {
			s.Address = ip
			return s, nil
		}
		return s, errors.New("missing client address")
	}
}

func respond(c *gin.Context, body httplimiter.ErrorBody) {
	c.AbortWithStatusJSON(body.StatusCode, body)
}

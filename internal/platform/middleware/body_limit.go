package middleware

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const defaultBodyLimit = 1 << 20

var errTooLarge = echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")

// BodyLimit caps request bodies at limit ("512K", "1M", "2MB", or bytes).
// Oversized Content-Length is rejected up front; bodies without one fail on
// the read that crosses the limit.
func BodyLimit(limit string) echo.MiddlewareFunc {
	max := ParseLimit(limit)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > max {
				return errTooLarge
			}
			req.Body = &limitedBody{ReadCloser: req.Body, remaining: max}
			return next(c)
		}
	}
}

type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (r *limitedBody) Read(p []byte) (int, error) {
	if r.remaining < 0 {
		return 0, errTooLarge
	}
	if int64(len(p)) > r.remaining+1 {
		p = p[:r.remaining+1]
	}
	n, err := r.ReadCloser.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		return 0, errTooLarge
	}
	return n, err
}

// ParseLimit converts a size such as "1M" to bytes. Unparseable input
// yields 1 MiB.
func ParseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "B")
	var mult int64 = 1
	if s != "" {
		switch s[len(s)-1] {
		case 'K':
			mult = 1 << 10
		case 'M':
			mult = 1 << 20
		case 'G':
			mult = 1 << 30
		}
		if mult > 1 {
			s = s[:len(s)-1]
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return defaultBodyLimit
	}
	return n * mult
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/lithammer/shortuuid/v4"

	"github.com/maximbilan/vaultai/internal/ai"
	"github.com/maximbilan/vaultai/internal/auth"
	"github.com/maximbilan/vaultai/internal/provider"
)

const (
	userKey        = "user"
	maxRequestBody = 1 << 20
)

var (
	errTooManyRequests = errors.New("Too many requests")
	errBadBody         = errors.New("Invalid request body")
)

type errorResponse struct {
	Error string `json:"error"`
}

type chatRequest struct {
	Messages []provider.Message `json:"messages"`
}

type statusResponse struct {
	Configured bool `json:"configured"`
}

// requestLogger tags each request with an id, logs one line when it ends and
// turns handler errors into JSON envelopes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		start := time.Now()
		reqID := shortuuid.New()
		c.Response().Header().Set("X-Request-Id", reqID)

		err := next(c)

		attrs := []any{
			"id", reqID,
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"duration", time.Since(start),
		}
		if user, ok := c.Get(userKey).(string); ok {
			attrs = append(attrs, "user", user)
		}
		if err == nil {
			s.log.Info("request", attrs...)
			return nil
		}

		status, msg := errorStatus(err)
		attrs = append(attrs, "status", status, "error", err)
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.log.Log(c.Request().Context(), level, "request failed", attrs...)
		return c.JSON(status, errorResponse{Error: msg})
	}
}

// errorStatus maps an error onto its HTTP status and client-facing message.
func errorStatus(err error) (int, string) {
	var upErr *provider.UpstreamError
	var httpErr *echo.HTTPError
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, auth.ErrUnauthorized.Error()
	case errors.Is(err, errTooManyRequests):
		return http.StatusTooManyRequests, errTooManyRequests.Error()
	case errors.Is(err, ai.ErrNotConfigured):
		return http.StatusBadRequest, ai.ErrNotConfigured.Error()
	case errors.Is(err, errBadBody):
		return http.StatusBadRequest, errBadBody.Error()
	case errors.Is(err, ai.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &upErr):
		return http.StatusBadGateway, upErr.Error()
	case errors.As(err, &httpErr):
		return httpErr.Code, http.StatusText(httpErr.Code)
	}
	return http.StatusInternalServerError, err.Error()
}

// authorize resolves the user and applies the per-user rate limit.
func (s *Server) authorize(c *echo.Context) (string, error) {
	userID, err := s.auth.UserID(c.Request())
	if err != nil {
		return "", auth.ErrUnauthorized
	}
	c.Set(userKey, userID)
	if s.limiter != nil && !s.limiter.Allow(userID) {
		return "", errTooManyRequests
	}
	return userID, nil
}

func decodeBody(c *echo.Context, v any) error {
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errBadBody
	}
	return nil
}

func (s *Server) handleProxy(c *echo.Context) error {
	userID, err := s.authorize(c)
	if err != nil {
		return err
	}
	var req ai.ActionRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}

	res, err := s.ai.Complete(c.Request().Context(), userID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleChat(c *echo.Context) error {
	userID, err := s.authorize(c)
	if err != nil {
		return err
	}
	var req chatRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	stream, err := s.ai.OpenChat(ctx, userID, req.Messages)
	if err != nil {
		return err
	}
	defer stream.Close()

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	// Headers are out, so failures from here on can only end the stream.
	buf := make([]byte, 32*1024)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return nil
			}
			_ = rc.Flush()
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && ctx.Err() == nil {
				s.log.Warn("chat stream interrupted", "user", userID, "provider", stream.Provider, "error", readErr)
			}
			return nil
		}
	}
}

func (s *Server) handleStatus(c *echo.Context) error {
	userID, err := s.auth.UserID(c.Request())
	if err != nil {
		return auth.ErrUnauthorized
	}
	c.Set(userKey, userID)

	configured, err := s.ai.Configured(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusResponse{Configured: configured})
}

func (s *Server) handleDuplicates(c *echo.Context) error {
	userID, err := s.authorize(c)
	if err != nil {
		return err
	}

	report, err := s.ai.DetectDuplicates(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

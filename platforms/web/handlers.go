package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"geminichat/core"
	"geminichat/core/history"
)

const defaultMaxUploadBytes = 10 << 20

type generateForm struct {
	Prompt string `form:"prompt" json:"prompt"`
	Mode   string `form:"mode" json:"mode"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	limit := s.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	var form generateForm
	if err := c.ShouldBind(&form); err != nil {
		if isTooLarge(err) {
			writeError(c, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// A missing prompt is reported before an unknown mode tag; the zero Mode
	// lets the dispatcher produce that error.
	mode, err := core.ParseMode(form.Mode)
	if err != nil {
		if strings.TrimSpace(form.Prompt) != "" {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		mode = 0
	}
	if mode.Valid() {
		c.Set(ctxKeyMode, mode.String())
	}

	req := core.Request{Mode: mode, Prompt: form.Prompt}
	if mode == core.ModeVision {
		img, err := readImage(c)
		if err != nil {
			if isTooLarge(err) {
				writeError(c, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		req.Image = img
	}

	// Once issued, the provider call runs to completion even if the client goes away.
	ctx := context.WithoutCancel(c.Request.Context())
	resp, err := s.dispatcher.Handle(ctx, req)
	if err != nil {
		writeError(c, core.StatusCode(err), err.Error())
		return
	}

	if userID := strings.TrimSpace(c.GetHeader(userIDHeader)); userID != "" {
		s.record(userID, req, resp)
	}

	c.JSON(http.StatusOK, resp)
}

// readImage returns nil without error when no image part was sent.
func readImage(c *gin.Context) (*core.Image, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, nil
	}
	data, err := readFileHeader(fh)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	mimeType := strings.TrimSpace(fh.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(data).String()
	}
	return &core.Image{Data: data, MIMEType: mimeType}, nil
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}

func (s *Server) record(userID string, req core.Request, resp core.Response) {
	if s.history == nil {
		return
	}
	conv := &history.Conversation{
		UserID:   userID,
		Prompt:   req.Prompt,
		Response: resp.Text,
		Type:     req.Mode.String(),
	}
	if !s.track() {
		s.log.Warn().Str("user_id", userID).Msg("server draining, conversation not persisted")
		return
	}
	go func() {
		defer s.pending.Done()
		if err := s.history.Save(context.Background(), conv); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to persist conversation")
		}
	}()
}

func (s *Server) handleConversations(c *gin.Context) {
	if s.history == nil {
		writeError(c, http.StatusServiceUnavailable, "conversation history is disabled")
		return
	}
	userID := strings.TrimSpace(c.GetHeader(userIDHeader))
	if userID == "" {
		writeError(c, http.StatusBadRequest, userIDHeader+" header is required")
		return
	}
	limit := history.DefaultListLimit
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	items, err := s.history.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to list conversations")
		writeError(c, http.StatusInternalServerError, "failed to load conversations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": items})
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/hive-api/internal/pipeline"
	"github.com/Brownie44l1/hive-api/internal/web"
)

// FormField is the multipart field both analyze endpoints read.
const FormField = "file"

type AudioAnalyzer interface {
	Analyze(ctx context.Context, filename string, r io.Reader) (*pipeline.AudioResult, error)
}

type ImageAnalyzer interface {
	Analyze(ctx context.Context, filename string, r io.Reader) (*pipeline.ImageResult, error)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status     string   `json:"status"`
	AudioModel string   `json:"audio_model"`
	ImageModel string   `json:"image_model"`
	Classes    []string `json:"classes"`
}

// Info describes the loaded models for /health.
type Info struct {
	AudioModel string
	ImageModel string
	Classes    []string
}

type Handler struct {
	audio AudioAnalyzer
	image ImageAnalyzer
	info  Info
	log   logrus.FieldLogger
}

func NewHandler(audio AudioAnalyzer, image ImageAnalyzer, info Info, log logrus.FieldLogger) *Handler {
	return &Handler{
		audio: audio,
		image: image,
		info:  info,
		log:   log,
	}
}

func (h *Handler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		AudioModel: h.info.AudioModel,
		ImageModel: h.info.ImageModel,
		Classes:    h.info.Classes,
	})
}

func (h *Handler) AnalyzeAudio(c *gin.Context) {
	analyze(h, c, "audio", h.audio.Analyze)
}

func (h *Handler) AnalyzeImage(c *gin.Context) {
	analyze(h, c, "image", h.image.Analyze)
}

func analyze[T any](h *Handler, c *gin.Context, pipe string, run func(context.Context, string, io.Reader) (T, error)) {
	header, err := c.FormFile(FormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "uploaded file is too large"})
		case errors.Is(err, http.ErrMissingFile):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no file uploaded, use 'file' as the form field name"})
		default:
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to parse upload: " + err.Error()})
		}
		return
	}

	file, err := header.Open()
	if err != nil {
		h.fail(c, pipe, header.Filename, err)
		return
	}
	defer file.Close()

	log := h.log.WithFields(logrus.Fields{"pipeline": pipe, "filename": header.Filename, "size": header.Size})
	log.Debug("received upload")

	result, err := run(c.Request.Context(), header.Filename, file)
	if err != nil {
		h.fail(c, pipe, header.Filename, err)
		return
	}

	log.WithField("result", result).Info("classified upload")
	c.JSON(http.StatusOK, result)
}

// fail is the single place a pipeline error becomes an HTTP response.
func (h *Handler) fail(c *gin.Context, pipe, filename string, err error) {
	kind := pipeline.KindOf(err)
	status := StatusFor(kind)

	entry := h.log.WithFields(logrus.Fields{"pipeline": pipe, "filename": filename, "kind": kind.String()}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Warn("pipeline failed")
	} else {
		entry.Info("rejected upload")
	}

	c.JSON(status, ErrorResponse{Error: err.Error()})
}

// StatusFor maps an error kind to the HTTP status returned to clients.
func StatusFor(kind pipeline.Kind) int {
	if kind == pipeline.KindMissingInput {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

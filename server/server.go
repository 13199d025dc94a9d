// Package server provides a self-contained study backend speaking the same
// REST and DICOMweb routes the viewer client uses. Instances are kept in an
// in-memory Archive.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caio-sobreiro/dicomview/imageref"
	"github.com/caio-sobreiro/dicomview/types"
)

// APIPrefix is the route prefix of every endpoint
const APIPrefix = "/api/v1"

// uploadField is the multipart field carrying the files
const uploadField = "files"

// Option configures a Server instance.
type Option func(*Server)

// WithLogger overrides the logger used by the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithReadTimeout sets the read timeout for client connections.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.ReadTimeout = timeout
	}
}

// WithWriteTimeout sets the write timeout for client connections.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.WriteTimeout = timeout
	}
}

// Server exposes an Archive over HTTP.
type Server struct {
	Archive      *Archive
	Logger       *slog.Logger
	ReadTimeout  time.Duration // Read timeout for connections (default: none)
	WriteTimeout time.Duration // Write timeout for connections (default: none)

	router *gin.Engine
}

// New builds a Server serving archive.
func New(archive *Archive, opts ...Option) *Server {
	srv := &Server{Archive: archive}
	for _, opt := range opts {
		opt(srv)
	}
	srv.router = srv.routes()
	return srv
}

// ListenAndServe listens on the given address and serves until the context is done or an error occurs.
func ListenAndServe(ctx context.Context, address string, archive *Archive, opts ...Option) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	defer listener.Close()

	srv := New(archive, opts...)
	return srv.Serve(ctx, listener)
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections from listener until ctx is cancelled or an unrecoverable error occurs.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		return errors.New("studyserver: listener is required")
	}
	if s == nil || s.router == nil {
		return errors.New("studyserver: server is not initialized")
	}
	if s.Archive == nil {
		return errors.New("studyserver: archive is required")
	}

	logger := s.logger()
	httpSrv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("Study server listening",
		"address", listener.Addr().String(),
		"instances", s.Archive.Len())

	err := httpSrv.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	api := r.Group(APIPrefix)
	api.GET("/studies", s.handleListStudies)
	api.GET("/studies/:study", s.handleGetStudy)
	api.GET("/studies/:study/series/:series", s.handleGetSeries)
	api.DELETE("/studies/:study", s.handleDeleteStudy)
	api.POST("/upload/", s.handleUpload)
	api.GET("/dicomweb/studies/:study/series/:series/instances/:instance", s.handleGetInstance)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger().Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"request_id", c.GetHeader("X-Request-ID"),
			"duration", time.Since(start))
	}
}

// detail writes an error body in the {"detail": ...} shape the client reads.
func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

func validUIDs(c *gin.Context, params ...string) bool {
	for _, p := range params {
		if !imageref.ValidUID(c.Param(p)) {
			detail(c, http.StatusBadRequest, fmt.Sprintf("Malformed %s UID", p))
			return false
		}
	}
	return true
}

func (s *Server) handleListStudies(c *gin.Context) {
	c.JSON(http.StatusOK, s.Archive.Studies())
}

func (s *Server) handleGetStudy(c *gin.Context) {
	if !validUIDs(c, "study") {
		return
	}
	study, ok := s.Archive.Study(c.Param("study"))
	if !ok {
		detail(c, http.StatusNotFound, "Study not found")
		return
	}
	c.JSON(http.StatusOK, study)
}

func (s *Server) handleGetSeries(c *gin.Context) {
	if !validUIDs(c, "study", "series") {
		return
	}
	series, ok := s.Archive.Series(c.Param("study"), c.Param("series"))
	if !ok {
		detail(c, http.StatusNotFound, "Series not found")
		return
	}
	c.JSON(http.StatusOK, series)
}

func (s *Server) handleDeleteStudy(c *gin.Context) {
	if !validUIDs(c, "study") {
		return
	}
	uid := c.Param("study")
	if !s.Archive.Delete(uid) {
		detail(c, http.StatusNotFound, "Study not found")
		return
	}
	s.logger().InfoContext(c.Request.Context(), "Study deleted", "study_uid", uid)
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Study %s deleted", uid)})
}

func (s *Server) handleUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		detail(c, http.StatusBadRequest, fmt.Sprintf("Invalid multipart body: %v", err))
		return
	}
	files := form.File[uploadField]
	if len(files) == 0 {
		detail(c, http.StatusUnprocessableEntity, "No files")
		return
	}

	result := types.UploadResult{Errors: []types.UploadFailure{}}
	for _, fh := range files {
		if err := s.storeUpload(fh); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, types.UploadFailure{
				Filename: fh.Filename,
				Error:    "Invalid DICOM file: " + err.Error(),
			})
			continue
		}
		result.Uploaded++
	}

	s.logger().InfoContext(c.Request.Context(), "Upload received",
		"uploaded", result.Uploaded,
		"failed", result.Failed)
	c.JSON(http.StatusOK, result)
}

func (s *Server) storeUpload(fh *multipart.FileHeader) error {
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	_, err = s.Archive.Store(data)
	return err
}

func (s *Server) handleGetInstance(c *gin.Context) {
	if !validUIDs(c, "study", "series", "instance") {
		return
	}
	data, ok := s.Archive.Instance(c.Param("study"), c.Param("series"), c.Param("instance"))
	if !ok {
		detail(c, http.StatusNotFound, "Instance not found")
		return
	}
	c.Data(http.StatusOK, "application/dicom", data)
}

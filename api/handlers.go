package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"photo_to_pdf/internal/converter"
	"photo_to_pdf/internal/mailer"
	"photo_to_pdf/internal/naming"
)

const (
	defaultMaxMemory     = 32 << 20 // 32 MB for multipart form parsing
	defaultMaxUploadSize = 15 << 20
	// multipartOverhead leaves room for boundaries and small text fields on
	// top of the photo itself.
	multipartOverhead = 1 << 20
	photoField        = "photo"
)

type APIErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// UploadResponse is returned when the PDF was generated and mailed.
type UploadResponse struct {
	OK        bool   `json:"ok"`
	Filename  string `json:"filename"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, v interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write JSON response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, message string, details interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errResponse := APIErrorResponse{
		Error:   message,
		Details: details,
	}
	if err := json.NewEncoder(w).Encode(errResponse); err != nil {
		slog.Error("Failed to write JSON error response", "error", err)
		// Fallback if JSON encoding fails
		http.Error(w, `{"error":"Failed to serialize error message"}`, http.StatusInternalServerError)
	}
}

// Options configures a Server.
type Options struct {
	Converter      *converter.Config
	Sender         mailer.Sender
	From           string
	To             []string
	MaxUploadBytes int64
	Location       *time.Location // for dated filenames
	StaticDir      string         // served at "/" when it exists
	Now            func() time.Time
}

// Server turns uploaded photos into mailed PDFs.
type Server struct {
	opts Options
}

// NewServer fills in defaults for unset options.
func NewServer(opts Options) *Server {
	if opts.Converter == nil {
		opts.Converter = converter.NewDefaultConfig()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadSize
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{opts: opts}
}

// Routes returns the HTTP handler for the service.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", s.HandleUpload)
	mux.HandleFunc("/health", HandleHealth)

	if s.opts.StaticDir != "" {
		if info, err := os.Stat(s.opts.StaticDir); err == nil && info.IsDir() {
			mux.Handle("/", http.FileServer(http.Dir(s.opts.StaticDir)))
		} else {
			slog.Warn("Static directory not found, not serving static files", "dir", s.opts.StaticDir)
		}
	}
	return mux
}

// HandleHealth reports that the process is up.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSONError(w, "Invalid request method", "Only GET is allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (s *Server) tooLarge(w http.ResponseWriter) {
	limit := units.BytesSize(float64(s.opts.MaxUploadBytes))
	writeJSONError(w, fmt.Sprintf("Photo too large (limit %s)", limit), nil, http.StatusRequestEntityTooLarge)
}

// HandleUpload accepts a multipart form with a "photo" file and optional
// "subject" and "filename" fields, converts the photo to a one-page PDF and
// mails it to the configured recipients.
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "Invalid request method", "Only POST is allowed", http.StatusMethodNotAllowed)
		return
	}

	startedAt := time.Now()
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)
	logger := slog.With("request_id", requestID)
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+multipartOverhead)
	// Ensure body is closed
	defer func() {
		io.Copy(io.Discard, r.Body) // Drain any remaining parts of the body
		r.Body.Close()
	}()

	logger.Info("Upload request received", "remote", r.RemoteAddr, "content_length", r.ContentLength)

	if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			logger.Warn("Upload exceeds size limit", "limit", s.opts.MaxUploadBytes)
			s.tooLarge(w)
			return
		}
		logger.Warn("Failed to parse multipart form", "error", err)
		writeJSONError(w, "Failed to parse request data", err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, fileHeader, err := r.FormFile(photoField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			logger.Warn("No photo in upload")
			writeJSONError(w, "No file (photo)", "Send the image in the 'photo' form field.", http.StatusBadRequest)
			return
		}
		logger.Error("Failed to open uploaded file", "error", err)
		writeJSONError(w, "Failed to open uploaded file", err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if fileHeader.Size > s.opts.MaxUploadBytes {
		logger.Warn("Photo exceeds size limit", "size", fileHeader.Size, "limit", s.opts.MaxUploadBytes)
		s.tooLarge(w)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxUploadBytes+1))
	if err != nil {
		logger.Error("Failed to read uploaded file", "error", err)
		writeJSONError(w, "Failed to read uploaded file", err.Error(), http.StatusBadRequest)
		return
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		s.tooLarge(w)
		return
	}
	logger.Info("Photo received", "filename", fileHeader.Filename, "size", len(data), "type", fileHeader.Header.Get("Content-Type"))

	filename := naming.SanitizeFilename(r.FormValue("filename"))
	if filename == "" {
		filename = naming.DatedFilename(s.opts.Now(), s.opts.Location)
	}
	subject := naming.SanitizeSubject(r.FormValue("subject"))
	if subject == "" {
		subject = "PDF " + filename
	}

	convCfg := *s.opts.Converter
	if convCfg.Title == "" {
		convCfg.Title = subject
	}

	logger.Debug("Generating PDF", "filename", filename)
	var pdfOutputBuffer bytes.Buffer
	result, err := converter.ConvertToPDF(ctx, data, &convCfg, &pdfOutputBuffer)
	if err != nil {
		logger.Error("PDF conversion failed", "error", err)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			writeJSONError(w, "PDF conversion timed out or was canceled by client", err.Error(), http.StatusGatewayTimeout)
		case errors.Is(err, converter.ErrUnsupportedFormat),
			errors.Is(err, converter.ErrEmptyImage),
			errors.Is(err, converter.ErrInvalidDimensions):
			writeJSONError(w, "Unsupported or unreadable image, expected JPEG or PNG", err.Error(), http.StatusUnprocessableEntity)
		default:
			writeJSONError(w, "Failed to convert image to PDF", err.Error(), http.StatusInternalServerError)
		}
		return
	}
	logger.Info("PDF generated", "bytes", result.Size, "format", result.Format,
		"width", result.Width, "height", result.Height, "hint", result.Hint, "rotation", result.Rotation)

	msg := &mailer.Message{
		From:    s.opts.From,
		To:      s.opts.To,
		Subject: subject,
		Text:    "Attached PDF file: " + filename,
		Attachments: []mailer.Attachment{{
			Filename:    filename,
			ContentType: "application/pdf",
			Data:        pdfOutputBuffer.Bytes(),
		}},
	}

	logger.Debug("Sending email", "to", strings.Join(s.opts.To, ", "))
	if err := s.opts.Sender.Send(ctx, msg); err != nil {
		logger.Error("Failed to send email", "error", err)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeJSONError(w, "Timed out or canceled while sending email", err.Error(), http.StatusGatewayTimeout)
			return
		}
		writeJSONError(w, "Failed to send email", err.Error(), http.StatusBadGateway)
		return
	}

	logger.Info("Email sent", "filename", filename, "duration", time.Since(startedAt))
	writeJSON(w, UploadResponse{OK: true, Filename: filename, RequestID: requestID}, http.StatusOK)
}

// handlers_intake.go — HTTP handlers for file intake, whole and chunked.
// Both paths converge on Ledger.CreateFromStream; the chunked path goes
// through the Assembler first.
package staging

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/adrian-purnama/streamhaven-be/internal/metrics"
	"github.com/adrian-purnama/streamhaven-be/internal/validate"
)

// handleUploadFile handles POST /admin/staging/upload.
// multipart/form-data: file (binary, required), title (required),
// catalogId, posterPath (optional). The part's Content-Type must be on the
// video allow-list.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if ok, retry := s.limiter.CheckFileIntake(r.Context(), clientIP(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many uploads, slow down")
		return
	}

	// Stream the multipart body instead of ParseMultipartForm: files run to
	// gigabytes and must never be buffered.
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_multipart", "body must be multipart/form-data")
		return
	}

	var title, catalogID, posterPath string
	for {
		part, err := mr.NextPart()
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_file", "multipart body has no file part")
			return
		}

		switch part.FormName() {
		case "title":
			title = readSmallField(part)
			continue
		case "catalogId":
			catalogID = readSmallField(part)
			continue
		case "posterPath":
			posterPath = readSmallField(part)
			continue
		case "file":
		default:
			continue
		}

		// Metadata fields must precede the file part so they are available
		// here; clients built against this API already order them that way.
		if strings.TrimSpace(title) == "" {
			title = part.FileName()
		}
		if err := intakeMetaErrors(part.FileName(), title); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_metadata", err.Error())
			return
		}

		item, err := s.ledger.CreateFromStream(r.Context(), CreateParams{
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			CatalogID:   catalogID,
			Title:       title,
			PosterPath:  posterPath,
			Size:        -1, // multipart parts carry no length
		}, part, nil)
		if err != nil {
			writeIntakeError(w, err)
			return
		}

		metrics.IntakeBytes.Add(float64(item.Size))
		s.log.Info("file staged", "staging_id", item.ID, "filename", item.Filename, "size", item.Size)
		writeJSON(w, http.StatusCreated, item)
		return
	}
}

// handleUploadChunk handles POST /admin/staging/upload/chunk.
// multipart/form-data: uploadId, chunkIndex, chunk (binary); chunk 0
// additionally carries totalChunks, filename, contentType, title and the
// optional catalogId/posterPath.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if ok, retry := s.limiter.CheckChunkIntake(r.Context(), clientIP(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many chunks, slow down")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.ChunkCeilingBytes+64<<10) // chunk + form overhead

	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "chunk_too_large",
				fmt.Sprintf("chunk exceeds %d bytes", s.cfg.ChunkCeilingBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_multipart", "body must be multipart/form-data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	uploadID := strings.TrimSpace(r.FormValue("uploadId"))
	if uploadID == "" {
		writeError(w, http.StatusBadRequest, "missing_upload_id", "uploadId is required")
		return
	}
	index, err := strconv.Atoi(r.FormValue("chunkIndex"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid_chunk_index", "chunkIndex must be a non-negative integer")
		return
	}

	var meta *ChunkMeta
	if index == 0 {
		total, err := strconv.Atoi(r.FormValue("totalChunks"))
		if err != nil || total <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_total_chunks", "totalChunks must be a positive integer")
			return
		}
		meta = &ChunkMeta{
			Filename:    r.FormValue("filename"),
			ContentType: r.FormValue("contentType"),
			CatalogID:   r.FormValue("catalogId"),
			Title:       r.FormValue("title"),
			PosterPath:  r.FormValue("posterPath"),
			TotalChunks: total,
		}
		if meta.Title == "" {
			meta.Title = meta.Filename
		}
		if err := intakeMetaErrors(meta.Filename, meta.Title); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_metadata", err.Error())
			return
		}
	}

	chunk, _, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_chunk", "chunk file part is required")
		return
	}
	defer chunk.Close()

	res, err := s.assembler.Accept(r.Context(), uploadID, index, meta, chunk)
	if err != nil {
		writeIntakeError(w, err)
		return
	}

	metrics.ChunksReceived.Inc()
	if res.Complete {
		// A finished upload hands its chunk budget back so a follow-up
		// upload from the same IP starts fresh.
		s.limiter.ResetChunkIntake(r.Context(), clientIP(r))
		metrics.IntakeBytes.Add(float64(res.Item.Size))
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeIntakeError maps intake errors to HTTP responses.
func writeIntakeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidMime):
		writeError(w, http.StatusUnsupportedMediaType, "invalid_mime", "content type is not an accepted video format")
	case errors.Is(err, ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the maximum staged size")
	case errors.Is(err, ErrNoSession):
		writeError(w, http.StatusConflict, "no_session", "no assembly session for this uploadId, resend chunk 0")
	case errors.Is(err, ErrChunkGap):
		writeError(w, http.StatusConflict, "missing_chunks", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "intake_failed", err.Error())
	}
}

// intakeMetaErrors validates the user-supplied intake metadata.
func intakeMetaErrors(filename, title string) error {
	errs := &validate.MultiError{}
	errs.Add(validate.Filename("filename", filename))
	errs.Add(validate.NonEmptyString("title", title))
	errs.Add(validate.MaxLength("title", title, 500))
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// readSmallField drains a small text part. Bounded so a mislabeled file part
// cannot balloon memory.
func readSmallField(part io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(part, 4096))
	return strings.TrimSpace(string(b))
}

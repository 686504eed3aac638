package handlers

import (
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"

	"crm-chat/backend/models"
	"crm-chat/backend/upload"

	"github.com/gorilla/mux"
)

// UploadResponse tells the client what to put in a media message.
type UploadResponse struct {
	URL         string             `json:"url"`
	Name        string             `json:"name"`
	ContentType string             `json:"contentType"`
	Size        int64              `json:"size"`
	MessageType models.MessageType `json:"messageType"`
}

// UploadFile stores the multipart "file" field.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+1024*1024)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "could not read upload")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	url, err := h.Uploads.Store(r.Context(), upload.Blob{Name: header.Filename, ContentType: contentType, Data: data})
	if err != nil {
		sendJSONError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, UploadResponse{
		URL:         url,
		Name:        header.Filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		MessageType: upload.TypeFor(contentType),
	})
}

// DownloadFile streams a stored upload. Only media renders inline; every
// other type downloads as an attachment.
func (h *Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	f, err := h.Uploads.Open(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		sendJSONError(w, err)
		return
	}
	defer f.Body.Close()

	disposition := "attachment"
	if upload.Inline(f.ContentType) {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": f.Name}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, f.Body); err != nil {
		log.Printf("Error streaming file %s: %v", f.Name, err)
	}
}

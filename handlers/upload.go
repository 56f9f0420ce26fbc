package handlers

import (
	"errors"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"wick_chat/docs"
)

const pdfType = "application/pdf"

// uploadTypes are the accepted content types.
var uploadTypes = map[string]bool{
	pdfType:         true,
	"text/plain":    true,
	"text/markdown": true,
}

type uploadError struct {
	status int
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

// upload serves POST /api/upload: multipart "file" parts are chunked into
// documents. With a chatId form field the documents are also added to
// that chat's retrieval store.
func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	// Room for several files plus form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, 4*h.deps.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(h.deps.MaxUploadBytes); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeJSONError(w, http.StatusBadRequest, "No file provided")
		return
	}

	chatID := r.FormValue("chatId")
	if chatID != "" {
		if _, err := h.deps.Store.OwnedChat(r.Context(), user.Username, chatID); err != nil {
			h.writeStoreError(w, err)
			return
		}
	}

	files := make([]docs.File, 0, len(headers))
	for _, fh := range headers {
		f, err := h.readUpload(fh)
		if err != nil {
			var ue *uploadError
			if errors.As(err, &ue) {
				writeJSONError(w, ue.status, ue.msg)
				return
			}
			log.Printf("[handlers] read upload %s: %v", fh.Filename, err)
			writeJSONError(w, http.StatusInternalServerError, msgProcessingFile)
			return
		}
		files = append(files, f)
	}

	documents, err := docs.ChunkAll(r.Context(), files)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if chatID != "" {
		n := h.deps.Docs.Add(chatID, documents)
		log.Printf("[handlers] chat %s: added %d chunk(s) from %d file(s)", chatID, n, len(files))
		h.deps.EventBus.Publish(EventDocsAdded, user.Username)
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": documents})
}

func (h *handler) readUpload(fh *multipart.FileHeader) (docs.File, error) {
	if fh.Size > h.deps.MaxUploadBytes {
		return docs.File{}, &uploadError{http.StatusBadRequest, "File size exceeds the 5MB limit"}
	}

	ct := uploadType(fh)
	if !uploadTypes[ct] {
		return docs.File{}, &uploadError{http.StatusBadRequest, "Only PDF and text files are supported"}
	}

	f, err := fh.Open()
	if err != nil {
		return docs.File{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.deps.MaxUploadBytes+1))
	if err != nil {
		return docs.File{}, err
	}
	if ct == pdfType {
		text, err := docs.ExtractPDF(data)
		if err != nil {
			log.Printf("[handlers] %s: %v", fh.Filename, err)
			return docs.File{}, &uploadError{http.StatusBadRequest, fh.Filename + ": could not read PDF"}
		}
		return docs.File{Name: fh.Filename, Type: ct, Size: fh.Size, Text: text}, nil
	}
	if !utf8.Valid(data) {
		return docs.File{}, &uploadError{http.StatusBadRequest, fh.Filename + ": file is not valid UTF-8 text"}
	}
	return docs.File{Name: fh.Filename, Type: ct, Size: fh.Size, Text: string(data)}, nil
}

// uploadType returns the part's media type, guessing from the extension
// when the client sent none or a generic one.
func uploadType(fh *multipart.FileHeader) string {
	ct, _, _ := mime.ParseMediaType(fh.Header.Get("Content-Type"))
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(fh.Filename)) {
	case ".txt", ".text", ".log":
		return "text/plain"
	case ".md", ".markdown":
		return "text/markdown"
	case ".pdf":
		return pdfType
	}
	return ct
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/caresync/consult-chat-api/api"
	"github.com/caresync/consult-chat-api/config"
	"github.com/caresync/consult-chat-api/models"
)

// maxUploadBytes caps attachment uploads.
const maxUploadBytes = 25 << 20

// uploadFolder is the blob provider folder attachments land in.
const uploadFolder = "chat_files"

// StoredFile is the durable reference returned by the blob provider.
type StoredFile struct {
	URL  string
	Kind string
}

// FileStore is the opaque blob provider: it stores a binary and returns a
// durable URL plus a resource kind.
type FileStore interface {
	Upload(ctx context.Context, file io.Reader, originalName string) (*StoredFile, error)
}

type cloudinaryStore struct {
	cld *cloudinary.Cloudinary
}

// NewCloudinaryStore builds the Cloudinary-backed FileStore from the
// CLOUDINARY_* environment variables
func NewCloudinaryStore() (FileStore, error) {
	cld, err := cloudinary.NewFromParams(
		os.Getenv("CLOUDINARY_CLOUD_NAME"),
		os.Getenv("CLOUDINARY_API_KEY"),
		os.Getenv("CLOUDINARY_API_SECRET"),
	)
	if err != nil {
		return nil, err
	}
	return &cloudinaryStore{cld: cld}, nil
}

func (s *cloudinaryStore) Upload(ctx context.Context, file io.Reader, originalName string) (*StoredFile, error) {
	res, err := s.cld.Upload.Upload(ctx, file, uploader.UploadParams{
		Folder:       uploadFolder,
		ResourceType: "auto",
	})
	if err != nil {
		return nil, err
	}

	kind := models.FileTypeDocument
	switch res.ResourceType {
	case "image":
		kind = models.FileTypeImage
	case "video":
		kind = models.FileTypeVideo
	}
	return &StoredFile{URL: res.SecureURL, Kind: kind}, nil
}

// UploadFileHandler attaches a file to a message over HTTP. The blob upload
// happens before any room-level serialization; the message only becomes
// visible (stored and broadcast) after a successful append, so a failed
// append never leaks a reference to the orphaned blob.
func (c Chat) UploadFileHandler(w http.ResponseWriter, r *http.Request) {
	info, ok := identity(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		config.ErrorStatus("upload too large or malformed", http.StatusBadRequest, w, err)
		return
	}
	// release buffered parts on every exit path
	defer r.MultipartForm.RemoveAll()

	appointmentID := r.FormValue("appointmentId")
	if appointmentID == "" {
		config.ErrorStatus("invalid request", http.StatusBadRequest, w, errors.New("appointmentId is required"))
		return
	}

	guardCtx, cancelGuard := api.WithQueryTimeout(r.Context())
	appt, err := c.Rooms.GuardedRoom(guardCtx, appointmentID, info.ID())
	cancelGuard()
	if err != nil {
		roomErrorStatus(w, err)
		return
	}
	if appt.ChatClosed() {
		roomErrorStatus(w, ErrChatClosed)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		config.ErrorStatus("no file uploaded", http.StatusBadRequest, w, err)
		return
	}
	defer file.Close()

	// network-bound provider call, deliberately outside the room lock
	stored, err := c.Files.Upload(r.Context(), file, header.Filename)
	if err != nil {
		config.ErrorStatus("failed to store attachment", http.StatusBadGateway, w, err)
		return
	}

	msg := models.ChatMessage{
		ChatID:   appointmentID,
		SenderID: info.ID(),
		Message:  r.FormValue("message"),
		FileURL:  stored.URL,
		FileName: header.Filename,
		FileType: stored.Kind,
	}

	// the provider call above can outlive a query timeout, so the append
	// gets a fresh deadline
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	storedMsg, err := c.Hub.AppendAndBroadcast(ctx, msg, 0)
	if err != nil {
		roomErrorStatus(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":     true,
		"message":     "file uploaded successfully",
		"messageData": storedMsg,
	})
}

package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/caresync/consult-chat-api/api"
	"github.com/caresync/consult-chat-api/api/handlers"
	"github.com/caresync/consult-chat-api/databases/mocks"
	"github.com/caresync/consult-chat-api/models"
)

type fakeFileStore struct {
	stored   *handlers.StoredFile
	err      error
	delay    time.Duration
	calls    int
	finished time.Time
}

func (f *fakeFileStore) Upload(ctx context.Context, file io.Reader, originalName string) (*handlers.StoredFile, error) {
	f.calls++
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.finished = time.Now()
	if f.err != nil {
		return nil, f.err
	}
	return f.stored, nil
}

func multipartUpload(t *testing.T, appointmentID, message string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if appointmentID != "" {
		if err := w.WriteField("appointmentId", appointmentID); err != nil {
			t.Fatal(err)
		}
	}
	if message != "" {
		if err := w.WriteField("message", message); err != nil {
			t.Fatal(err)
		}
	}
	part, err := w.CreateFormFile("file", "scan.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("not-really-a-png")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func uploadChat(adb *mocks.AppointmentDatabase, mdb *mocks.ChatMessageDatabase, files handlers.FileStore) handlers.Chat {
	rooms := &handlers.RoomService{ADB: adb, MDB: mdb}
	return handlers.Chat{
		Rooms: rooms,
		Hub:   handlers.NewHub(rooms, nil),
		Files: files,
	}
}

func TestChat_UploadFileHandler(t *testing.T) {
	roomID := primitive.NewObjectID()
	adb := &mocks.AppointmentDatabase{}
	adb.On("FindOne", mock.Anything, mock.Anything).Return(openAppointment(roomID), nil)
	mdb := &mocks.ChatMessageDatabase{}
	mdb.On("InsertOne", mock.Anything, mock.Anything).Return(nil, nil)

	store := &fakeFileStore{stored: &handlers.StoredFile{
		URL:  "https://res.example.com/chat_files/scan.png",
		Kind: models.FileTypeImage,
	}}
	c := uploadChat(adb, mdb, store)

	body, contentType := multipartUpload(t, roomID.Hex(), "here is the scan")
	req, _ := http.NewRequest("POST", "/api/v1/chat/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	c.UploadFileHandler(rr, authed(req, testPatientID, api.RolePatient))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "file uploaded successfully") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), store.stored.URL) {
		t.Errorf("expected the stored file url in the response, got %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"fileName":"scan.png"`) {
		t.Errorf("expected the original file name, got %s", rr.Body.String())
	}
	if store.calls != 1 {
		t.Errorf("expected one provider upload, got %d", store.calls)
	}
}

func TestChat_UploadFileHandlerSlowProvider(t *testing.T) {
	roomID := primitive.NewObjectID()
	adb := &mocks.AppointmentDatabase{}
	adb.On("FindOne", mock.Anything, mock.Anything).Return(openAppointment(roomID), nil)

	var appendErr error
	var appendDeadline time.Time
	mdb := &mocks.ChatMessageDatabase{}
	mdb.On("InsertOne", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		appendErr = ctx.Err()
		appendDeadline, _ = ctx.Deadline()
	}).Return(nil, nil)

	store := &fakeFileStore{
		stored: &handlers.StoredFile{
			URL:  "https://res.example.com/chat_files/scan.png",
			Kind: models.FileTypeImage,
		},
		delay: 2 * time.Second,
	}
	c := uploadChat(adb, mdb, store)

	body, contentType := multipartUpload(t, roomID.Hex(), "")
	req, _ := http.NewRequest("POST", "/api/v1/chat/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	c.UploadFileHandler(rr, authed(req, testPatientID, api.RolePatient))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if appendErr != nil {
		t.Errorf("append ran with a dead context: %v", appendErr)
	}
	// the append deadline must start counting after the provider call
	// returned, so a slow upload never eats the store's time budget
	if appendDeadline.Before(store.finished.Add(9 * time.Second)) {
		t.Errorf("expected the append deadline to begin after the upload finished, got %v (upload finished %v)",
			appendDeadline, store.finished)
	}
}

func TestChat_UploadFileHandlerClosedRoom(t *testing.T) {
	roomID := primitive.NewObjectID()
	adb := &mocks.AppointmentDatabase{}
	adb.On("FindOne", mock.Anything, mock.Anything).Return(closedAppointment(roomID), nil)

	store := &fakeFileStore{}
	c := uploadChat(adb, &mocks.ChatMessageDatabase{}, store)

	body, contentType := multipartUpload(t, roomID.Hex(), "")
	req, _ := http.NewRequest("POST", "/api/v1/chat/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	c.UploadFileHandler(rr, authed(req, testPatientID, api.RolePatient))

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
	if store.calls != 0 {
		t.Error("expected no provider upload for a closed room")
	}
}

func TestChat_UploadFileHandlerStranger(t *testing.T) {
	roomID := primitive.NewObjectID()
	adb := &mocks.AppointmentDatabase{}
	adb.On("FindOne", mock.Anything, mock.Anything).Return(openAppointment(roomID), nil)

	store := &fakeFileStore{}
	c := uploadChat(adb, &mocks.ChatMessageDatabase{}, store)

	body, contentType := multipartUpload(t, roomID.Hex(), "")
	req, _ := http.NewRequest("POST", "/api/v1/chat/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	c.UploadFileHandler(rr, authed(req, "intruder", api.RolePatient))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
	if store.calls != 0 {
		t.Error("expected no provider upload for a stranger")
	}
}

func TestChat_UploadFileHandlerMissingAppointmentID(t *testing.T) {
	c := uploadChat(&mocks.AppointmentDatabase{}, &mocks.ChatMessageDatabase{}, &fakeFileStore{})

	body, contentType := multipartUpload(t, "", "")
	req, _ := http.NewRequest("POST", "/api/v1/chat/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	c.UploadFileHandler(rr, authed(req, testPatientID, api.RolePatient))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestChat_UploadFileHandlerProviderFailure(t *testing.T) {
	roomID := primitive.NewObjectID()
	adb := &mocks.AppointmentDatabase{}
	adb.On("FindOne", mock.Anything, mock.Anything).Return(openAppointment(roomID), nil)
	mdb := &mocks.ChatMessageDatabase{}

	store := &fakeFileStore{err: errors.New("provider unavailable")}
	c := uploadChat(adb, mdb, store)

	body, contentType := multipartUpload(t, roomID.Hex(), "")
	req, _ := http.NewRequest("POST", "/api/v1/chat/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	c.UploadFileHandler(rr, authed(req, testPatientID, api.RolePatient))

	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rr.Code)
	}
	mdb.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestChat_UploadFileHandlerStoreFailure(t *testing.T) {
	roomID := primitive.NewObjectID()
	adb := &mocks.AppointmentDatabase{}
	adb.On("FindOne", mock.Anything, mock.Anything).Return(openAppointment(roomID), nil)
	mdb := &mocks.ChatMessageDatabase{}
	mdb.On("InsertOne", mock.Anything, mock.Anything).Return(nil, errors.New("mocked-error"))

	store := &fakeFileStore{stored: &handlers.StoredFile{
		URL:  "https://res.example.com/chat_files/scan.png",
		Kind: models.FileTypeImage,
	}}
	c := uploadChat(adb, mdb, store)

	body, contentType := multipartUpload(t, roomID.Hex(), "")
	req, _ := http.NewRequest("POST", "/api/v1/chat/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	c.UploadFileHandler(rr, authed(req, testPatientID, api.RolePatient))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on a failed append, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "retry") {
		t.Errorf("expected a retryable storage error, got %s", rr.Body.String())
	}
}

package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Attachment kinds as reported by the blob provider. Anything that is not
// an image or a video is stored as a document.
const (
	FileTypeImage    = "image"
	FileTypeVideo    = "video"
	FileTypeDocument = "document"
)

// ChatMessage holds the structure for the chatmessages collection in mongo.
// ChatID is the appointment id of the room the message belongs to. A message
// is immutable once stored; Timestamp is always server-assigned and, together
// with the monotonic _id for tie-breaks, defines the room ordering.
type ChatMessage struct {
	ID        primitive.ObjectID `json:"_id" bson:"_id"`
	ChatID    string             `json:"chatId" bson:"chatId"`
	SenderID  string             `json:"senderId" bson:"senderId"`
	Message   string             `json:"message" bson:"message"`
	FileURL   string             `json:"fileUrl,omitempty" bson:"fileUrl,omitempty"`
	FileName  string             `json:"fileName,omitempty" bson:"fileName,omitempty"`
	FileType  string             `json:"fileType,omitempty" bson:"fileType,omitempty"`
	Timestamp primitive.DateTime `json:"timestamp" bson:"timestamp"`
}

// HasAttachment reports whether the message carries a file reference. A
// message with an empty body and no attachment is invalid.
func (m *ChatMessage) HasAttachment() bool {
	return m.FileURL != ""
}

// ChatHistoryResponse is the backlog payload returned for a room.
type ChatHistoryResponse struct {
	Messages   []ChatMessage `json:"messages"`
	ChatClosed bool          `json:"chatClosed"`
}

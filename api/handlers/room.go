package handlers

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/caresync/consult-chat-api/databases"
	"github.com/caresync/consult-chat-api/models"
)

// maxMessageRunes caps the body length accepted on either write path.
const maxMessageRunes = 4000

// Typed failures shared by the HTTP surface and the realtime gateway.
var (
	ErrRoomNotFound   = errors.New("appointment not found")
	ErrNotAParty      = errors.New("unauthorized access")
	ErrChatClosed     = errors.New("chat closed permanently")
	ErrEmptyMessage   = errors.New("message cannot be empty")
	ErrMessageTooLong = errors.New("message too long")
	ErrNotClosed      = errors.New("only closed chats can be deleted")
)

// RoomService owns room lookup, the message log and the lifecycle
// transitions. It carries no locking of its own: the gateway hub serializes
// append-then-broadcast and the close transition per room.
type RoomService struct {
	ADB databases.AppointmentDatabase
	MDB databases.ChatMessageDatabase
}

// Room loads the appointment backing a chat room. A missing (or deleted)
// room reports ErrRoomNotFound.
func (s *RoomService) Room(ctx context.Context, roomID string) (*models.Appointment, error) {
	id, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return nil, ErrRoomNotFound
	}
	appt, err := s.ADB.FindOne(ctx, bson.M{"_id": id})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return appt, nil
}

// GuardedRoom loads the room and confirms the account is one of its two
// parties.
func (s *RoomService) GuardedRoom(ctx context.Context, roomID, accountID string) (*models.Appointment, error) {
	appt, err := s.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !appt.IsParty(accountID) {
		return nil, ErrNotAParty
	}
	return appt, nil
}

// Append validates and stores a message with a server-assigned id and
// timestamp, re-checking membership and the lifecycle gate right before the
// write. The caller must hold the room serialization lock so that store
// acceptance order and broadcast order agree. A storage failure is returned
// to the sender rather than swallowed; nothing is broadcast for it.
func (s *RoomService) Append(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, error) {
	msg.Message = strings.TrimSpace(msg.Message)
	if msg.Message == "" && !msg.HasAttachment() {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(msg.Message) > maxMessageRunes {
		return nil, ErrMessageTooLong
	}

	appt, err := s.GuardedRoom(ctx, msg.ChatID, msg.SenderID)
	if err != nil {
		return nil, err
	}
	if appt.ChatClosed() {
		return nil, ErrChatClosed
	}

	msg.ID = primitive.NewObjectID()
	msg.Timestamp = primitive.NewDateTimeFromTime(time.Now().UTC())
	if _, err := s.MDB.InsertOne(ctx, msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// History returns the full room backlog ascending by timestamp, with the
// monotonic _id breaking ties in insertion order.
func (s *RoomService) History(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	sort := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	messages, err := s.MDB.Find(ctx, bson.M{"chatId": roomID}, sort)
	if err != nil {
		return nil, err
	}
	// the frontend requires the messages array to exist even when empty
	if len(messages) == 0 {
		messages = []models.ChatMessage{}
	}
	return messages, nil
}

// Close marks the room closed. Only the clinician party may close, the
// transition is irreversible and closing an already closed room is a no-op.
// The returned bool reports whether the state actually changed.
func (s *RoomService) Close(ctx context.Context, roomID, actorID string) (*models.Appointment, bool, error) {
	appt, err := s.Room(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	if actorID != appt.ClinicianID {
		return nil, false, ErrNotAParty
	}
	if appt.ChatClosed() {
		return appt, false, nil
	}
	update := bson.M{"$set": bson.M{"chatState": models.ChatStateClosed}}
	if err := s.ADB.UpdateOne(ctx, bson.M{"_id": appt.ID}, update); err != nil {
		return nil, false, err
	}
	appt.ChatState = models.ChatStateClosed
	return appt, true, nil
}

// Delete purges the room's messages and then the room record itself. Only
// the patient party may delete and only once the room is closed. Terminal:
// afterwards every lookup reports ErrRoomNotFound.
func (s *RoomService) Delete(ctx context.Context, roomID, actorID string) error {
	appt, err := s.Room(ctx, roomID)
	if err != nil {
		return err
	}
	if actorID != appt.PatientID {
		return ErrNotAParty
	}
	if !appt.ChatClosed() {
		return ErrNotClosed
	}
	if _, err := s.MDB.DeleteMany(ctx, bson.M{"chatId": roomID}); err != nil {
		return err
	}
	return s.ADB.DeleteOne(ctx, bson.M{"_id": appt.ID})
}

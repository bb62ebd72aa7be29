package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// ChatState is the lifecycle state of a consultation chat room. A room is
// keyed by its appointment and is implicitly open once the appointment
// exists; a deleted room has no appointment record at all, so only the two
// live states are ever persisted.
type ChatState string

// Chat room lifecycle states. Transitions are one-way:
// open -> closed -> deleted (record removed).
const (
	ChatStateOpen   ChatState = "open"
	ChatStateClosed ChatState = "closed"
)

// Appointment holds the structure for the appointments collection in mongo.
// The consultation chat room is bound 1:1 to an appointment: the room id is
// the appointment id and the two chat parties are the booked patient and
// clinician, fixed before any join is accepted.
type Appointment struct {
	ID          primitive.ObjectID `json:"_id" bson:"_id"`
	PatientID   string             `json:"userId" bson:"userId"`
	ClinicianID string             `json:"docId" bson:"docId"`
	ChatState   ChatState          `json:"chatState" bson:"chatState"`
	SlotDate    string             `json:"slotDate" bson:"slotDate"`
	SlotTime    string             `json:"slotTime" bson:"slotTime"`
	Cancelled   bool               `json:"cancelled" bson:"cancelled"`
	IsCompleted bool               `json:"isCompleted" bson:"isCompleted"`
	PatientData PatientData        `json:"userData" bson:"userData"`
}

// PatientData holds the patient contact snapshot embedded in the
// appointment document, used for closure notifications.
type PatientData struct {
	Name  string `json:"name" bson:"name"`
	Email string `json:"email" bson:"email"`
}

// ChatClosed reports whether the room rejects writes. Documents created
// before the chatState field existed have an empty state and count as open.
func (a *Appointment) ChatClosed() bool {
	return a.ChatState == ChatStateClosed
}

// IsParty reports whether the given account id is one of the two room
// parties.
func (a *Appointment) IsParty(accountID string) bool {
	return accountID != "" && (accountID == a.PatientID || accountID == a.ClinicianID)
}

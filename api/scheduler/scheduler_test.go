package scheduler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/caresync/consult-chat-api/api/scheduler"
	"github.com/caresync/consult-chat-api/databases/mocks"
)

func TestScheduler_SweepOrphanedMessages(t *testing.T) {
	liveID := primitive.NewObjectID()
	orphanID := primitive.NewObjectID()

	mdb := &mocks.ChatMessageDatabase{}
	mdb.On("Distinct", mock.Anything, "chatId", mock.Anything).Return([]interface{}{
		liveID.Hex(),
		orphanID.Hex(),
		"not-an-object-id",
	}, nil)
	mdb.On("DeleteMany", mock.Anything, bson.M{"chatId": orphanID.Hex()}).Return(int64(4), nil)
	mdb.On("DeleteMany", mock.Anything, bson.M{"chatId": "not-an-object-id"}).Return(int64(1), nil)

	adb := &mocks.AppointmentDatabase{}
	adb.On("CountDocuments", mock.Anything, bson.M{"_id": liveID}).Return(int64(1), nil)
	adb.On("CountDocuments", mock.Anything, bson.M{"_id": orphanID}).Return(int64(0), nil)

	s := scheduler.NewScheduler(adb, mdb)
	if err := s.SweepOrphanedMessages(context.Background()); err != nil {
		t.Fatal(err)
	}

	// messages of the live appointment must survive the sweep
	mdb.AssertNotCalled(t, "DeleteMany", mock.Anything, bson.M{"chatId": liveID.Hex()})
	mdb.AssertCalled(t, "DeleteMany", mock.Anything, bson.M{"chatId": orphanID.Hex()})
	mdb.AssertCalled(t, "DeleteMany", mock.Anything, bson.M{"chatId": "not-an-object-id"})
}

func TestScheduler_SweepEmptyCollection(t *testing.T) {
	mdb := &mocks.ChatMessageDatabase{}
	mdb.On("Distinct", mock.Anything, "chatId", mock.Anything).Return(nil, nil)

	s := scheduler.NewScheduler(&mocks.AppointmentDatabase{}, mdb)
	if err := s.SweepOrphanedMessages(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestScheduler_SweepSurfacesDistinctError(t *testing.T) {
	mdb := &mocks.ChatMessageDatabase{}
	mdb.On("Distinct", mock.Anything, "chatId", mock.Anything).Return(nil, errors.New("mocked-error"))

	s := scheduler.NewScheduler(&mocks.AppointmentDatabase{}, mdb)
	if err := s.SweepOrphanedMessages(context.Background()); err == nil {
		t.Fatal("expected the distinct failure to surface")
	}
}

package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/caresync/consult-chat-api/databases"
)

// Scheduler runs the periodic maintenance jobs for the chat subsystem
type Scheduler struct {
	cron *cron.Cron
	ADB  databases.AppointmentDatabase
	MDB  databases.ChatMessageDatabase
}

// NewScheduler creates a new scheduler instance
func NewScheduler(adb databases.AppointmentDatabase, mdb databases.ChatMessageDatabase) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		ADB:  adb,
		MDB:  mdb,
	}
}

// Start registers the jobs and starts the cron loop
func (s *Scheduler) Start() {
	_, err := s.cron.AddFunc("@hourly", func() {
		if err := s.SweepOrphanedMessages(context.Background()); err != nil {
			zap.S().Errorw("orphaned message sweep failed", "error", err)
		}
	})
	if err != nil {
		zap.S().Errorw("failed to register sweep job", "error", err)
		return
	}
	s.cron.Start()
	zap.S().Info("scheduler started")
}

// Stop halts the cron loop
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// SweepOrphanedMessages deletes chat messages whose appointment record no
// longer exists. The delete transition removes messages before the room
// record, so a crash in between can strand messages; this job is the safety
// net that keeps purged consultations purged.
func (s *Scheduler) SweepOrphanedMessages(ctx context.Context) error {
	chatIDs, err := s.MDB.Distinct(ctx, "chatId", bson.M{})
	if err != nil {
		return err
	}

	var removed int64
	for _, v := range chatIDs {
		chatID, ok := v.(string)
		if !ok {
			continue
		}
		oid, err := primitive.ObjectIDFromHex(chatID)
		if err != nil {
			// unkeyable room id, nothing can ever read these again
			n, derr := s.MDB.DeleteMany(ctx, bson.M{"chatId": chatID})
			if derr != nil {
				return derr
			}
			removed += n
			continue
		}

		count, err := s.ADB.CountDocuments(ctx, bson.M{"_id": oid})
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		n, err := s.MDB.DeleteMany(ctx, bson.M{"chatId": chatID})
		if err != nil {
			return err
		}
		removed += n
	}

	if removed > 0 {
		zap.S().Infow("swept orphaned chat messages", "removed", removed)
	}
	return nil
}

package databases

// go generate: mockery --name AppointmentDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/caresync/consult-chat-api/models"
)

const appointmentCollectionName = "appointments"

// AppointmentDatabase contains the methods to use with the appointment database
type AppointmentDatabase interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Appointment, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) error
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) error
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

type appointmentDatabase struct {
	db DatabaseHelper
}

// NewAppointmentDatabase initializes a new instance of appointment database with the provided db connection
func NewAppointmentDatabase(db DatabaseHelper) AppointmentDatabase {
	return &appointmentDatabase{
		db: db,
	}
}

func (a *appointmentDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Appointment, error) {
	appointment := &models.Appointment{}
	err := a.db.Collection(appointmentCollectionName).FindOne(ctx, filter, opts...).Decode(&appointment)
	if err != nil {
		return nil, err
	}
	return appointment, nil
}

func (a *appointmentDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) error {
	return a.db.Collection(appointmentCollectionName).UpdateOne(ctx, filter, update, opts...)
}

func (a *appointmentDatabase) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) error {
	return a.db.Collection(appointmentCollectionName).DeleteOne(ctx, filter, opts...)
}

func (a *appointmentDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return a.db.Collection(appointmentCollectionName).CountDocuments(ctx, filter, opts...)
}

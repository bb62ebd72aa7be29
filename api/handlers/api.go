package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/caresync/consult-chat-api/api"
	"github.com/caresync/consult-chat-api/api/scheduler"
	"github.com/caresync/consult-chat-api/config"
	"github.com/caresync/consult-chat-api/databases"
	"github.com/caresync/consult-chat-api/models"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router    *mux.Router
	Config    config.Config
	Hub       *Hub
	Scheduler *scheduler.Scheduler
	dbHelper  databases.DatabaseHelper
	files     FileStore
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	guard := api.NewGuard([]byte(a.Config.JWTSecret))

	rooms := &RoomService{
		ADB: databases.NewAppointmentDatabase(a.dbHelper),
		MDB: databases.NewChatMessageDatabase(a.dbHelper),
	}
	hub := NewHub(rooms, guard)
	a.Hub = hub

	chat := Chat{Rooms: rooms, Hub: hub, Files: a.files, Mailer: NewSendgridMailer()}

	r := mux.NewRouter()

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	// websocket gateway authenticates during the handshake, so it sits
	// outside the guard middleware
	r.HandleFunc("/ws", hub.HandleWebSocket)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()

	apiCreate.Handle("/chat/{appointment_id}/messages", guard.Middleware(http.HandlerFunc(chat.ChatMessagesHandler))).Methods("GET")
	apiCreate.Handle("/chat/end", guard.Middleware(http.HandlerFunc(chat.EndChatHandler))).Methods("POST")
	apiCreate.Handle("/chat/upload", guard.Middleware(http.HandlerFunc(chat.UploadFileHandler))).Methods("POST")
	apiCreate.Handle("/chat/delete", guard.Middleware(http.HandlerFunc(chat.DeleteChatHandler))).Methods("POST")

	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize() error {

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect()
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("consult-chat-api has connected to the database")

	a.files, err = NewCloudinaryStore()
	if err != nil {
		zap.S().With(err).Error("failed to create cloudinary store")
		return err
	}

	// initialize api router
	a.initializeRoutes()

	a.Scheduler = scheduler.NewScheduler(
		databases.NewAppointmentDatabase(a.dbHelper),
		databases.NewChatMessageDatabase(a.dbHelper),
	)
	a.Scheduler.Start()

	return nil
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}

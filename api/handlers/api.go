package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aett-tours/tours-api/api"
	"github.com/aett-tours/tours-api/api/realtime"
	"github.com/aett-tours/tours-api/api/scheduler"
	"github.com/aett-tours/tours-api/config"
	"github.com/aett-tours/tours-api/databases"
	"github.com/aett-tours/tours-api/models"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router  *mux.Router
	Handler http.Handler // Router wrapped with CORS, what main serves
	Config  config.Config

	Registry    *realtime.Registry
	Broadcaster *realtime.Broadcaster
	Scheduler   *scheduler.Scheduler
	Metrics     *api.MetricsCollector
	Mailer      Mailer

	dbClient databases.ClientHelper
	dbHelper databases.DatabaseHelper
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	m := api.NewOperatorAuth(databases.NewOperatorDatabase(a.dbHelper))
	if a.Metrics == nil {
		a.Metrics = api.NewMetricsCollector(1000)
	}

	r := mux.NewRouter()
	r.Use(api.LoggingMiddleware, a.Metrics.Middleware)

	chat := NewChat(
		databases.NewChatSessionDatabase(a.dbHelper),
		databases.NewChatMessageDatabase(a.dbHelper),
		a.Broadcaster,
	)
	chat.Mailer = a.Mailer
	chat.AlertEmail = a.Config.OperatorAlertEmail
	chat.DashboardURL = a.Config.BaseURL
	if a.Scheduler != nil {
		// the sweep and submissions share per-session locks
		a.Scheduler.Locker = chat
	}

	socket := ChatSocket{
		Registry: a.Registry,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(a.Config.AllowedOrigins),
		},
	}

	// healthchex
	r.HandleFunc("/health", a.healthCheckHandler)

	// live chat connections, kept off the timeout middleware
	r.HandleFunc("/ws/chat", socket.ChatSocketHandler).Methods("GET")

	apiCreate := r.PathPrefix("/api/v1").Subrouter()
	apiCreate.Use(api.TimeoutMiddleware(a.Config.RequestTimeout), api.MaxBodyMiddleware(a.Config.MaxBodyBytes))

	apiCreate.Handle("/auth/token", m.Middleware(http.HandlerFunc(m.CreateToken))).Methods("POST")
	apiCreate.Handle("/auth/logout", m.Middleware(http.HandlerFunc(m.RevokeToken))).Methods("DELETE")

	chat.Routes(apiCreate, m.Middleware)

	metrics := Metrics{Collector: a.Metrics, Registry: a.Registry}
	apiCreate.Handle("/admin/metrics", m.Middleware(http.HandlerFunc(metrics.MetricsHandler))).Methods("GET")

	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize(ctx context.Context) error {
	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.dbClient = client
	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect(ctx)
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("tours-api has connected to the database")

	if err := databases.EnsureIndexes(ctx, a.dbHelper); err != nil {
		zap.S().Errorw("failed to ensure indexes", "error", err)
		return err
	}

	a.Registry = realtime.NewRegistry()
	a.Broadcaster = realtime.NewBroadcaster(a.Registry)

	if a.Config.SendGridAPIKey != "" {
		a.Mailer = SendGridMailer{
			APIKey:    a.Config.SendGridAPIKey,
			FromEmail: a.Config.MailFrom,
			FromName:  "AETT Tours",
		}
	} else {
		zap.S().Warn("SENDGRID_API_KEY not set, operator alert emails are disabled")
	}

	if a.Config.IdleSessionTimeout > 0 {
		a.Scheduler = scheduler.NewScheduler(
			databases.NewChatSessionDatabase(a.dbHelper),
			a.Broadcaster,
			a.Config.IdleSessionTimeout,
		)
	}

	// initialize api router
	a.initializeRoutes()

	if a.Scheduler != nil {
		if err := a.Scheduler.Start(a.Config.IdleSweepSchedule); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown closes the live connections, stops background jobs and
// disconnects from the database
func (a *App) Shutdown(ctx context.Context) error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Registry != nil {
		a.Registry.CloseAll()
	}
	if a.Metrics != nil {
		a.Metrics.Stop()
	}
	if a.dbClient != nil {
		return a.dbClient.Disconnect(ctx)
	}
	return nil
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
	a.Handler = cors.Handler(cors.Options{
		AllowedOrigins:   a.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})(a.Router)
}

func (a *App) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthCheckResponse{Alive: true}
	if a.dbClient != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Database = a.dbClient.Ping(ctx) == nil
	}
	if a.Registry != nil {
		resp.LiveSessions = a.Registry.Sessions()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(resp)
	_, _ = io.WriteString(w, string(b))
}

// decodeOptionalBody decodes a JSON body, treating an empty body as the zero value
func decodeOptionalBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

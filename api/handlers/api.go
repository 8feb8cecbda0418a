package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/mercaline/market-chat-api/api"
	"github.com/mercaline/market-chat-api/api/scheduler"
	"github.com/mercaline/market-chat-api/chat"
	"github.com/mercaline/market-chat-api/config"
	"github.com/mercaline/market-chat-api/databases"
	"github.com/mercaline/market-chat-api/models"
)

// presenceTTL bounds how stale a mirrored presence key may go when an
// instance dies without cleaning up.
const presenceTTL = 2 * time.Minute

// App stores the router and db connection, so it can be reused
type App struct {
	Router   *mux.Router
	Config   config.Config
	dbHelper databases.DatabaseHelper
	client   databases.ClientHelper

	registry  *chat.Registry
	scheduler *scheduler.Scheduler
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	// setup go-guardian for middleware
	m := api.MiddlewareDB{DB: databases.NewUserDatabase(a.dbHelper)}
	m.SetupGoGuardian()

	r := mux.NewRouter()

	userDB := databases.NewUserDatabase(a.dbHelper)
	chatDB := databases.NewChatDatabase(a.dbHelper)
	memberDB := databases.NewChatMemberDatabase(a.dbHelper)
	messageDB := databases.NewMessageDatabase(a.dbHelper)
	txn := databases.NewTxnRunner(a.client)

	sinks := []chat.PresenceSink{&chat.LastActiveSink{UserDB: userDB}}
	if a.Config.RedisURL != "" {
		opt, err := redis.ParseURL(a.Config.RedisURL)
		if err != nil {
			zap.S().Warnw("invalid redis url, presence mirroring disabled", "error", err)
		} else {
			sinks = append(sinks, &chat.RedisMirror{
				Client: redis.NewClient(opt),
				Prefix: "market-chat",
				TTL:    presenceTTL,
			})
		}
	}
	a.registry = chat.NewRegistry(sinks...)

	rooms := chat.NewRooms(chatDB, memberDB, userDB, messageDB)
	notifier := chat.NewNotifier()
	pipeline := chat.NewPipeline(
		a.registry,
		chat.NewLimiter(),
		rooms,
		chat.NewFilter(nil, nil),
		&chat.Detector{},
		userDB, messageDB, chatDB, memberDB,
		txn,
		notifier,
	)
	disputes := chat.NewDisputes(chatDB, memberDB, userDB, a.registry, notifier)

	socket := &Socket{
		Config:    a.Config,
		Registry:  a.registry,
		Pipeline:  pipeline,
		Rooms:     rooms,
		Disputes:  disputes,
		UserDB:    userDB,
		MessageDB: messageDB,
		MemberDB:  memberDB,
	}
	chats := Chats{Rooms: rooms, Pipeline: pipeline, MessageDB: messageDB, MemberDB: memberDB}
	dispute := Dispute{Svc: disputes}
	points := Points{DB: userDB, Config: a.Config}
	search := Search{UserDB: userDB, Registry: a.registry}
	cloudinaryHandler := CloudinaryHandler{}

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	// websocket endpoint authenticates with its own handshake token
	r.HandleFunc("/ws", socket.ServeWS)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()

	apiCreate.Handle("/auth/token", api.Middleware(http.HandlerFunc(m.CreateToken))).Methods("POST")
	apiCreate.Handle("/auth/socket-token", api.Middleware(m.CreateSocketTokenHandler(a.Config.JWTSecret))).Methods("POST")
	apiCreate.Handle("/auth/logout", api.Middleware(http.HandlerFunc(api.RevokeToken))).Methods("DELETE")

	apiCreate.Handle("/user/{user_id}/chats", api.Middleware(http.HandlerFunc(chats.ChatsByUserIDHandler))).Methods("GET")
	apiCreate.Handle("/chats", api.Middleware(http.HandlerFunc(chats.CreateChatHandler))).Methods("POST")
	apiCreate.Handle("/chat/{chat_id}/messages", api.Middleware(http.HandlerFunc(chats.MessagesByChatIDHandler))).Methods("GET")
	apiCreate.Handle("/chat/{chat_id}/read", api.Middleware(http.HandlerFunc(chats.MarkChatReadHandler))).Methods("POST")
	apiCreate.Handle("/messages", api.Middleware(http.HandlerFunc(chats.SendMessageHandler))).Methods("POST")

	apiCreate.Handle("/disputes", api.Middleware(http.HandlerFunc(dispute.CreateDisputeHandler))).Methods("POST")
	apiCreate.Handle("/disputes/metrics", api.Middleware(http.HandlerFunc(dispute.DisputeMetricsHandler))).Methods("GET")
	apiCreate.Handle("/dispute/{chat_id}/status", api.Middleware(http.HandlerFunc(dispute.UpdateDisputeStatusHandler))).Methods("PUT")
	apiCreate.Handle("/dispute/{chat_id}/access", api.Middleware(http.HandlerFunc(dispute.DisputeAccessHandler))).Methods("GET")

	apiCreate.Handle("/points/create-checkout-session", api.Middleware(http.HandlerFunc(points.CreateCheckoutSessionHandler))).Methods("POST")
	apiCreate.Handle("/points/verify", api.Middleware(http.HandlerFunc(points.VerifyCheckoutHandler))).Methods("POST")

	apiCreate.Handle("/users/search", api.Middleware(http.HandlerFunc(search.SearchHandler))).Methods("GET")

	apiCreate.Handle("/generate-signature", api.Middleware(http.HandlerFunc(cloudinaryHandler.GenerateSignature))).Methods("POST")

	apiCreate.Handle("/success", http.HandlerFunc(points.handleSuccessRedirect)).Methods("GET")
	apiCreate.Handle("/cancel", http.HandlerFunc(points.handleCancelRedirect)).Methods("GET")

	a.scheduler = scheduler.NewScheduler(chatDB, userDB, disputes)
	a.scheduler.Start()

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
	a.client = client

	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect()
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("market-chat-api has connected to the database")

	// initialize stripe
	stripeKey := os.Getenv("STRIPE_SECRET_KEY")
	if stripeKey == "" {
		return fmt.Errorf("stripe secret key is not set")
	}
	stripe.Key = stripeKey

	// initialize api router
	a.initializeRoutes()
	return nil
}

// Shutdown drains every live socket and stops the background jobs.
func (a *App) Shutdown() {
	if a.registry != nil {
		a.registry.Drain()
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-chat/backend/config"
	"crm-chat/backend/database"
	"crm-chat/backend/handlers"
	"crm-chat/backend/jobs"
	"crm-chat/backend/middleware"
	"crm-chat/backend/presence"
	"crm-chat/backend/rooms"
	"crm-chat/backend/upload"
	"crm-chat/backend/utils"
	"crm-chat/backend/websocket"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

// rebuildLimit bounds how far back unread counters are recomputed at start-up.
const rebuildLimit = 500

type backends struct {
	messages database.MessageStore
	rooms    database.RoomStore
	uploads  upload.Store
	close    func()
}

func openBackends(ctx context.Context, cfg *config.Config) backends {
	if cfg.StoreBackend == "memory" {
		log.Println("Using in-memory stores; data is lost on restart.")
		return backends{
			messages: database.NewMemoryMessageStore(),
			rooms:    database.NewMemoryRoomStore(),
			uploads:  upload.NewMemoryStore(cfg.PublicBaseURL, cfg.MaxUploadBytes),
			close:    func() {},
		}
	}

	mongoDB, err := database.ConnectMongoDB(ctx, cfg.MongoDBURI, cfg.DBName)
	if err != nil {
		log.Fatalf("Could not connect to MongoDB: %v", err)
	}
	messages, err := database.NewMongoMessageStore(ctx, mongoDB.DB)
	if err != nil {
		log.Fatalf("Could not prepare message store: %v", err)
	}
	uploads, err := upload.NewGridFSStore(mongoDB.DB, cfg.PublicBaseURL, cfg.MaxUploadBytes)
	if err != nil {
		log.Fatalf("Could not prepare upload store: %v", err)
	}
	return backends{
		messages: messages,
		rooms:    database.NewMongoRoomStore(mongoDB.DB),
		uploads:  uploads,
		close:    mongoDB.Disconnect,
	}
}

func openMirror(ctx context.Context, cfg *config.Config) (presence.Mirror, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	mirror := presence.NewRedisMirror(client, "chat:", 2*cfg.IdleTimeout)
	if err := mirror.Ping(ctx); err != nil {
		log.Printf("Redis at %s not reachable, presence mirror will retry per update: %v", cfg.RedisAddr, err)
	} else {
		log.Printf("Presence mirror connected to Redis at %s", cfg.RedisAddr)
	}
	return mirror, func() { client.Close() }
}

// rebuildUnread recomputes unread counters from the recent log and the read
// cursors of every room.
func rebuildUnread(ctx context.Context, registry *rooms.Registry, store database.MessageStore, tracker *presence.Tracker) {
	for _, roomID := range registry.RoomIDs() {
		room, err := registry.Get(roomID)
		if err != nil || room.Settings.Archived {
			continue
		}
		recent, err := store.ListBefore(ctx, roomID, 0, rebuildLimit)
		if err != nil {
			log.Printf("Error rebuilding unread counters for room %s: %v", roomID, err)
			continue
		}
		cursors, err := store.ReadCursors(ctx, roomID)
		if err != nil {
			log.Printf("Error loading read cursors for room %s: %v", roomID, err)
			continue
		}
		tracker.Rebuild(roomID, room.Participants, recent, cursors)
	}
}

func main() {
	cfg := config.LoadConfig()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	store := openBackends(startCtx, cfg)
	defer store.close()

	mirror, closeMirror := openMirror(startCtx, cfg)
	defer closeMirror()
	tracker := presence.NewTracker(mirror)

	registry := rooms.NewRegistry(rooms.WithRoomStore(store.rooms))
	n, err := registry.Load(startCtx)
	if err != nil {
		log.Fatalf("Could not load rooms: %v", err)
	}
	log.Printf("Loaded %d rooms", n)
	rebuildUnread(startCtx, registry, store.messages, tracker)
	cancelStart()

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go tracker.Run(runCtx)

	verifier := utils.NewJWTVerifier(cfg.JWTSecret)
	hub := websocket.NewHub(registry, store.messages, tracker, store.uploads, verifier, websocket.Options{
		IdleTimeout:      cfg.IdleTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		EditWindow:       cfg.EditWindow,
		TypingTTL:        cfg.TypingTTL,
		MaxFrameBytes:    cfg.MaxFrameBytes,
		SendBuffer:       cfg.SendBuffer,
		MessageBurst:     cfg.MessageBurst,
		MessageRate:      cfg.MessageRate,
		AllowedOrigins:   cfg.AllowedOrigins,
	})

	var resync jobs.MirrorResyncer
	if mirror != nil {
		resync = tracker
	}
	scheduler, err := jobs.NewScheduler(hub, resync, registry)
	if err != nil {
		log.Fatalf("Could not schedule jobs: %v", err)
	}
	scheduler.Start()

	api := &handlers.Handler{
		Registry:       registry,
		Tracker:        tracker,
		Store:          store.messages,
		Uploads:        store.uploads,
		Events:         hub,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws", hub.ServeWS).Methods("GET")
	api.RegisterRoutes(router, middleware.JWTMiddleware(verifier))

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     c.Handler(router),
		IdleTimeout: 120 * time.Second,
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", serverAddr, err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %s, shutting down server...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scheduler.Stop(ctx)
	hub.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if n := registry.FlushActivity(ctx); n > 0 {
		log.Printf("Flushed activity of %d rooms", n)
	}

	log.Println("Server exited gracefully.")
}

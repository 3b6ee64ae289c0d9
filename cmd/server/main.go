package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/syncrelay/server/internal/api"
	"github.com/syncrelay/server/internal/db"
	"github.com/syncrelay/server/internal/session"
	"github.com/syncrelay/server/internal/store"
	"github.com/syncrelay/server/internal/ws"
)

func main() {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	snapshots, err := store.New(dataDir)
	if err != nil {
		log.Fatalf("Failed to initialize snapshot store: %v", err)
	}

	dbPath := os.Getenv("SYNCRELAY_DB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "versions.db")
	}

	database, err := db.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	registry := session.NewRegistry(snapshots)
	hub := ws.NewHub(registry, database)

	apiHandler := api.New(hub, registry, snapshots, database)

	// WebSocket endpoint
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})

	http.HandleFunc("/health", apiHandler.HealthHandler)
	http.HandleFunc("/api/stats", apiHandler.StatsHandler)
	http.HandleFunc("/api/sessions", apiHandler.SessionsRouter)
	http.HandleFunc("/api/sessions/", apiHandler.SessionsRouter)
	http.HandleFunc("/api/versions", apiHandler.VersionsRouter)
	http.HandleFunc("/api/versions/", apiHandler.VersionsRouter)

	// Apply CORS middleware
	handler := corsMiddleware(http.DefaultServeMux)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		database.Close()
		os.Exit(0)
	}()

	host := os.Getenv("HOST")
	port := os.Getenv("PORT")
	if port == "" {
		port = "8765"
	}

	log.Printf("Syncrelay server starting on %s:%s", host, port)
	log.Printf("Data directory: %s", dataDir)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Sessions:  GET /api/sessions")
	log.Println("  - Session:   GET /api/sessions/{id}")
	log.Println("  - Versions:  GET/POST /api/versions")
	log.Println("  - Version:   GET/DELETE /api/versions/{id}")

	if err := http.ListenAndServe(host+":"+port, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

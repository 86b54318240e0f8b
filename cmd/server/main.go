/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the network engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize the store (SQLite or MongoDB)
  3. Wire the engine and API handler
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: 8080)
  -db        SQLite database path (default: network.db)
             Use ":memory:" for an in-memory database
  -mongo     MongoDB URI; when set, Mongo is used instead of SQLite
  -mongo-db  MongoDB database name (default: network)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit

EXAMPLES:
  # Run with a local SQLite file
  ./server -db="./data/network.db"

  # Run against MongoDB (requires a replica set for transactions)
  ./server -mongo="mongodb://localhost:27017" -mongo-db=network

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go, store/mongo/mongo.go: Store implementations
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/orbit/network-engine/api"
	"github.com/orbit/network-engine/network"
	mongostore "github.com/orbit/network-engine/store/mongo"
	"github.com/orbit/network-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "network.db", "SQLite database path")
	mongoURI := flag.String("mongo", "", "MongoDB URI (overrides -db)")
	mongoDB := flag.String("mongo-db", "network", "MongoDB database name")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Initialize store
	var store network.TxStore
	if *mongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ms, err := mongostore.New(ctx, *mongoURI, *mongoDB)
		cancel()
		if err != nil {
			logger.Fatal("failed to connect to mongo", zap.Error(err))
		}
		defer ms.Close(context.Background())
		store = ms
		logger.Info("using mongo store", zap.String("database", *mongoDB))
	} else {
		ss, err := sqlite.New(*dbPath)
		if err != nil {
			logger.Fatal("failed to initialize database", zap.Error(err))
		}
		defer ss.Close()
		store = ss
		logger.Info("using sqlite store", zap.String("path", *dbPath))
	}

	// Wire engine and handlers
	engine := network.NewEngine(store, logger)
	handler := api.NewHandler(engine, logger)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.Int("port", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

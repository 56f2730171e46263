package main

import (
	"github.com/wfunc/chatserver/config"
	"github.com/wfunc/chatserver/logger"
	"github.com/wfunc/chatserver/persistence"
	"github.com/wfunc/chatserver/server"
)

func main() {
	// Initialize logger
	logger.Init()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Database
	store, err := persistence.NewGormPostgres(
		cfg.Database.Postgres.Host,
		cfg.Database.Postgres.Port,
		cfg.Database.Postgres.User,
		cfg.Database.Postgres.Password,
		cfg.Database.Postgres.DBName,
	)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()
	logger.Log.Info("Database connection successful.")

	// Initialize Chat Server
	chatServer := server.NewChatServer(cfg, store)

	// Start Server
	logger.Log.Infof("Starting chat server on %s", cfg.Server.HTTPAddress)
	if err := chatServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}

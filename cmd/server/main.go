package main

import (
	"log"
	"net/http"
	"os"

	"install_planner/internal/config"
	"install_planner/internal/logger"
	"install_planner/internal/middleware"
	"install_planner/internal/routes"
)

func main() {
	// Initialize structured logging to file
	logger.Setup()

	// Load planner settings from the environment
	config.InitPlanner()

	// Connect to the database
	config.InitDB()

	// Setup Gin router (recovery and request logging registered inside)
	r := routes.SetupRouter()

	// Wrap with CORS
	handler := middleware.EnableCORS(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("🚀 Server running at :%s", port)
	log.Fatal(http.ListenAndServe("0.0.0.0:"+port, handler))
}

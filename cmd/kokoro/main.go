package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/Kokoro/common/version"
	"github.com/bdobrica/Kokoro/internal/kokoro/app"
	"github.com/bdobrica/Kokoro/internal/kokoro/llm"
	"github.com/bdobrica/Kokoro/internal/kokoro/matrix"
	"github.com/bdobrica/Kokoro/internal/kokoro/observability"
)

func main() {
	fmt.Printf("Kokoro Companion\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	observability.Setup(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "text"))

	// Load configuration from environment
	config := loadConfig()

	// Validate required configuration
	if config.Matrix.Homeserver == "" {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_HOMESERVER is required\n")
		os.Exit(1)
	}
	if config.Matrix.UserID == "" {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_USER_ID is required\n")
		os.Exit(1)
	}
	if config.Matrix.AccessToken == "" {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_ACCESS_TOKEN is required\n")
		os.Exit(1)
	}
	if len(config.Matrix.Rooms) == 0 {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_ROOMS is required\n")
		os.Exit(1)
	}
	if config.LLM.APIKey == "" && config.LLM.BaseURL == "" {
		fmt.Fprintf(os.Stderr, "Error: OPENAI_API_KEY is required (or set OPENAI_BASE_URL for a local model)\n")
		os.Exit(1)
	}

	// Create application
	kokoro, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Kokoro: %v\n", err)
		os.Exit(1)
	}
	defer kokoro.Stop()

	// Run application
	if err := kokoro.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Kokoro: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables
func loadConfig() app.Config {
	roomsStr := getEnv("MATRIX_ROOMS", "")

	var rooms []string
	if roomsStr != "" {
		rooms = strings.Split(roomsStr, ",")
		// Trim whitespace
		for i := range rooms {
			rooms[i] = strings.TrimSpace(rooms[i])
		}
	}

	var timeout time.Duration
	if raw := getEnv("OPENAI_TIMEOUT_SECONDS", ""); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			timeout = time.Duration(secs) * time.Second
		}
	}

	var queue int
	if raw := getEnv("ANALYSIS_QUEUE", ""); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			queue = n
		}
	}

	return app.Config{
		DatabasePath:  getEnv("DATABASE_PATH", "./kokoro.db"),
		CardsDir:      getEnv("PERSONA_CARDS_DIR", ""),
		AnalysisQueue: queue,
		Matrix: matrix.Config{
			Homeserver:  getEnv("MATRIX_HOMESERVER", ""),
			UserID:      getEnv("MATRIX_USER_ID", ""),
			AccessToken: getEnv("MATRIX_ACCESS_TOKEN", ""),
			Rooms:       rooms,
		},
		LLM: llm.Config{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
			Model:   getEnv("OPENAI_MODEL", ""),
			Timeout: timeout,
		},
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

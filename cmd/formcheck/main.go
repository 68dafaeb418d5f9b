package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ayusman/formcheck/internal/app"
	"github.com/ayusman/formcheck/internal/config"
	"github.com/ayusman/formcheck/internal/delivery"
	"github.com/ayusman/formcheck/internal/server"
	"github.com/ayusman/formcheck/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	addr := flag.String("addr", "", "listen address, overrides listen_addr")
	flag.Parse()

	fmt.Println("Formcheck - Real-Time Bicep Curl Form Analyzer")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deliverer, err := delivery.New(ctx, delivery.Config{
		Kind:    cfg.Delivery.Kind,
		URL:     cfg.Delivery.URL,
		Timeout: cfg.DeliveryTimeout(),
		MQTT: delivery.MQTTConfig{
			Broker:   cfg.Delivery.MQTT.Broker,
			Topic:    cfg.Delivery.MQTT.Topic,
			ClientID: cfg.Delivery.MQTT.ClientID,
			QoS:      cfg.Delivery.MQTT.QoS,
		},
	})
	if err != nil {
		log.Fatalf("Failed to initialize delivery: %v", err)
	}

	application, err := app.New(app.Config{
		Settings:  cfg,
		Store:     st,
		Deliverer: deliverer,
	})
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	if frames, err := application.LoadReference(ctx); err != nil {
		fmt.Printf("No reference loaded, running without comparisons (place a reference at %s)\n", cfg.Reference.Path)
	} else {
		fmt.Printf("Reference loaded: %d frames\n", frames)
	}
	application.Start()

	webDir := findWebDir(cfg.DataDir)
	if webDir != "" {
		fmt.Printf("Serving static files from: %s\n", webDir)
	}

	srv := server.New(server.Config{
		StaticDir:     webDir,
		Store:         st,
		Service:       application,
		AllowedOrigin: cfg.AllowedOrigin,
	})

	if cfg.Delivery.Kind == delivery.KindMQTT {
		fmt.Printf("Publishing session reports to: %s (%s)\n", cfg.Delivery.MQTT.Broker, cfg.Delivery.MQTT.Topic)
	} else if cfg.Delivery.Kind != delivery.KindNone {
		fmt.Printf("Forwarding session reports to: %s\n", cfg.Delivery.URL)
	}
	fmt.Printf("Starting server on %s\n", cfg.ListenAddr)
	if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Server failed: %v", err)
	}
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	dataWebDir := filepath.Join(dataDir, "web")
	if info, err := os.Stat(dataWebDir); err == nil && info.IsDir() {
		return dataWebDir
	}

	return ""
}

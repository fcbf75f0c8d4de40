// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command quill starts the Quill natural-language query server or
// compiles a single prompt from the command line.
//
// Quill translates free-form requests ("show me high priority open
// tickets from last week") into structured qualification payloads for
// an ITSM REST API and optionally executes them.
//
// Usage:
//
//	go run ./cmd/quill serve
//	go run ./cmd/quill serve --port 9090 --rules ./rules.yaml
//	go run ./cmd/quill compile "urgent unresolved tickets"
//
// With a target system (enables execution and live reference data):
//
//	ITSM_BASE_URL=https://itsm.example.com \
//	ITSM_TOKEN_URL=https://itsm.example.com/api/oauth/token \
//	ITSM_CLIENT_ID=quill ITSM_CLIENT_SECRET=... \
//	go run ./cmd/quill serve
//
// With Ollama (enables the LLM compilation strategy):
//
//	OLLAMA_BASE_URL=http://localhost:11434 OLLAMA_MODEL=granite4:micro-h \
//	go run ./cmd/quill serve
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/quill/health
//
//	# Compile and execute a prompt
//	curl -X POST http://localhost:8080/v1/quill/execute-request \
//	  -H "Content-Type: application/json" \
//	  -d '{"request": "show me open tickets assigned to John Doe"}'
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/Quill/services/quill"
	"github.com/AleutianAI/Quill/services/quill/config"
	"github.com/AleutianAI/Quill/services/quill/exec"
	"github.com/AleutianAI/Quill/services/quill/providers"
)

var (
	servePort    int
	serveDebug   bool
	serveRules   string
	serveHistory string
	serveStrict  bool
	serveReuse   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quill",
		Short: "Natural-language query compiler for ITSM systems",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Quill API server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().StringVar(&serveRules, "rules", "", "Rules file (hot-reloaded; embedded defaults when empty)")
	serveCmd.Flags().StringVar(&serveHistory, "history-dir", "", "Journal directory (journaling disabled when empty)")
	serveCmd.Flags().BoolVar(&serveStrict, "strict", false, "Fail instead of falling back when the first strategy errors")
	serveCmd.Flags().BoolVar(&serveReuse, "reuse-history", false, "Answer repeated prompts from the journal")

	compileCmd := &cobra.Command{
		Use:   "compile <prompt>",
		Short: "Compile one prompt and print the qualification JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCompile,
	}

	rootCmd.AddCommand(serveCmd, compileCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// serviceConfigFromEnv assembles the service configuration from ITSM_*
// and OLLAMA_* environment variables plus the serve flags.
func serviceConfigFromEnv() quill.ServiceConfig {
	cfg := quill.ServiceConfig{
		ITSMBaseURL: os.Getenv("ITSM_BASE_URL"),
		Auth: exec.OAuthConfig{
			TokenURL:     os.Getenv("ITSM_TOKEN_URL"),
			ClientID:     os.Getenv("ITSM_CLIENT_ID"),
			ClientSecret: os.Getenv("ITSM_CLIENT_SECRET"),
			Username:     os.Getenv("ITSM_USERNAME"),
			Password:     os.Getenv("ITSM_PASSWORD"),
			Scope:        os.Getenv("ITSM_SCOPE"),
		},
		HistoryPath:  serveHistory,
		Strict:       serveStrict,
		ReuseHistory: serveReuse,
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		cfg.Provider = providers.ProviderConfig{
			Provider: providers.ProviderOllama,
			Model:    model,
		}
	}
	return cfg
}

func runServe(_ *cobra.Command, _ []string) error {
	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if serveRules != "" {
		if _, err := config.LoadRulesFile(ctx, serveRules); err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		go func() {
			if err := config.WatchRules(ctx, serveRules); err != nil {
				slog.Warn("rules hot-reload unavailable", slog.String("error", err.Error()))
			}
		}()
	}

	svc, err := quill.NewService(ctx, serviceConfigFromEnv())
	if err != nil {
		return err
	}

	handlers := quill.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-quill"))
	if serveDebug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	quill.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	printBanner(servePort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Quill server")
		cancel()
		if err := svc.Close(); err != nil {
			slog.Warn("Failed to close journal", slog.String("error", err.Error()))
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", servePort)
	slog.Info("Starting Quill server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
	return nil
}

func runCompile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	prompt := ""
	for i, a := range args {
		if i > 0 {
			prompt += " "
		}
		prompt += a
	}

	cfg := serviceConfigFromEnv()
	// One-shot compilation never executes, so skip the target system.
	cfg.ITSMBaseURL = ""

	svc, err := quill.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	result, err := svc.Compile(ctx, prompt)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(map[string]any{
		"qualification": result.Payload,
		"strategy":      result.Strategy,
		"diagnostics":   result.Diagnostics,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printBanner(port int) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                           Quill Server                            ║
║              Natural Language -> ITSM Qualifications              ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
	fmt.Printf("  Listening on : http://localhost:%d\n", port)
	fmt.Printf("  Health check : http://localhost:%d/v1/quill/health\n", port)
	fmt.Printf("  Metrics      : http://localhost:%d/metrics\n", port)
	fmt.Println()
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/vcto/harvest-mcp/internal/calllog"
	"github.com/vcto/harvest-mcp/internal/harvest"
	"github.com/vcto/harvest-mcp/internal/middleware"
)

const (
	serverName    = "harvest-server"
	serverVersion = "1.0.0"
)

var (
	httpMode = flag.Bool("http", false, "Serve MCP over HTTP instead of stdio")
)

func main() {
	flag.Parse()

	// Initialize API call log
	callStorage, callConfig, err := calllog.Start()
	if err != nil {
		log.Printf("Warning: Failed to initialize call log: %v", err)
		callStorage = &calllog.NoOpStorage{}
		callConfig = &calllog.Config{}
	}
	defer func() {
		if err := callStorage.Close(); err != nil {
			log.Printf("Failed to close call log: %v", err)
		}
	}()

	// Create MCP server
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(false),
	)

	// Credentials: environment first, stored setup credentials second
	setupHandler := harvest.NewSetupHandler()
	harvestHandler := loadHandler(setupHandler)
	if harvestHandler == nil {
		log.Fatal("Harvest: credentials required (set HARVEST_ACCESS_TOKEN or run the setup flow)")
	}

	// Persist rotated access tokens so restarts keep working
	if store := setupHandler.Store(); store != nil {
		harvestHandler.Auth().OnRefresh = func(token string) {
			if err := store.UpdateAccessToken(harvest.DefaultUserID, token); err != nil {
				log.Printf("Harvest: failed to persist refreshed token: %v", err)
			}
		}
	}

	harvestHandler.GetClient().Recorder = callStorage

	log.Println("Harvest: Registering Harvest tools and resources")
	harvestHandler.SetupTools(s)
	setupHarvestResources(s, harvestHandler)

	// Run server
	if *httpMode || os.Getenv("PORT") != "" || os.Getenv("FLY_APP_NAME") != "" {
		runHTTPServer(s, setupHandler)
	} else {
		if callConfig.Enabled {
			log.Printf("Call log enabled for stdio server")
		}
		if err := server.ServeStdio(s); err != nil {
			log.Fatalf("Server error: %v\n", err)
		}
	}
}

// loadHandler builds the Harvest handler from env vars, falling back to
// credentials saved through the setup flow.
func loadHandler(setup *harvest.SetupHandler) *harvest.Handler {
	if h := harvest.NewHandler(); h != nil {
		return h
	}

	store := setup.Store()
	if store == nil {
		return nil
	}

	creds, err := store.Retrieve(harvest.DefaultUserID)
	if err != nil {
		return nil
	}
	return harvest.NewHandlerFromCredentials(creds)
}

func setupHarvestResources(s *server.MCPServer, handler *harvest.Handler) {
	// Today's time entries
	s.AddResource(mcp.NewResource("harvest://today",
		"Today's Time Entries",
		mcp.WithResourceDescription("Time logged today, including any running timer"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		today := harvest.Today()
		list, err := handler.GetClient().ListTimeEntries(ctx, harvest.TimeEntryFilter{
			From: today,
			To:   today,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get today's entries: %v", err)
		}

		var total float64
		for _, entry := range list.TimeEntries {
			total += entry.Hours
		}

		data, err := json.MarshalIndent(map[string]interface{}{
			"title":       "Today's Time Entries",
			"date":        today,
			"entries":     list.TimeEntries,
			"count":       len(list.TimeEntries),
			"total_hours": total,
		}, "", "  ")
		if err != nil {
			return nil, err
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "harvest://today",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})

	// Active projects
	s.AddResource(mcp.NewResource("harvest://projects",
		"Active Projects",
		mcp.WithResourceDescription("Active projects on the account"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := handler.GetClient().ListProjects(ctx, true, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to get projects: %v", err)
		}

		data, err := json.MarshalIndent(map[string]interface{}{
			"projects": list.Projects,
			"count":    len(list.Projects),
		}, "", "  ")
		if err != nil {
			return nil, err
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "harvest://projects",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func runHTTPServer(mcpServer *server.MCPServer, setupHandler *harvest.SetupHandler) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	streamableServer := server.NewStreamableHTTPServer(
		mcpServer,
		server.WithStateLess(true),
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", streamableServer)
	mux.HandleFunc("/setup", setupHandler.HandleSetup)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","server":"%s","version":"%s"}`, serverName, serverVersion)
	})

	handler := middleware.Logging(middleware.CORS(middleware.DefaultCORSConfig())(mux))

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	log.Printf("Harvest MCP server listening on :%s (endpoint /mcp)", port)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v\n", err)
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"strokesync-server/domain"
	"strokesync-server/hub"
	"strokesync-server/protocol"
	ws "strokesync-server/websocket"
)

const (
	roomCodeLength = 6
	maxRoomIDLen   = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	setupLogger()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	registry := hub.New(hub.Config{
		Grace:    envSeconds("ROOM_GRACE", 45*time.Second),
		MaxRooms: envInt("MAX_ROOMS", 0),
	})
	handler := protocol.NewHandler()

	if os.Getenv("LOG_LEVEL") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/api/health", healthHandler)
	router.POST("/api/canvas", newCanvasHandler(registry))
	router.GET("/ws/:id", wsHandler(registry, handler))
	router.GET("/stats", statsHandler(registry))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
		slog.Warn("invalid duration, using default", "key", key, "value", v)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		slog.Warn("invalid integer, using default", "key", key, "value", v)
	}
	return fallback
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// newCanvasHandler allocates a fresh share code, retrying until it
// finds one not backing a live room.
func newCanvasHandler(registry domain.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var code string
		for {
			code = hub.GenerateRoomCode(roomCodeLength)
			if !registry.Exists(code) {
				break
			}
		}
		c.JSON(http.StatusOK, gin.H{"canvasID": code})
	}
}

func wsHandler(registry domain.Registry, handler *protocol.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("id")
		if roomID == "" || len(roomID) > maxRoomIDLen {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid canvas id"})
			return
		}

		room, err := registry.GetOrCreate(roomID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}

		wsConn := ws.NewConn(uuid.New().String(), room, conn, handler)
		wsConn.Start()
	}
}

func statsHandler(registry domain.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		rooms, clients := registry.Stats()
		c.JSON(http.StatusOK, gin.H{"rooms": rooms, "clients": clients})
	}
}

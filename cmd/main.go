package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nimbuswire/notify-service/internal/broker"
	"github.com/nimbuswire/notify-service/internal/config"
	"github.com/nimbuswire/notify-service/internal/handler"
	"github.com/nimbuswire/notify-service/internal/registry"
	"github.com/nimbuswire/notify-service/internal/rooms"
	"github.com/nimbuswire/notify-service/internal/router"
	"github.com/nimbuswire/notify-service/internal/service"
	"github.com/nimbuswire/notify-service/internal/store"
	"github.com/nimbuswire/notify-service/pkg/jwt"
	pkglog "github.com/nimbuswire/notify-service/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	instanceID := uuid.New().String()
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: cfg.Log.ServiceName,
		InstanceID:  instanceID,
	})
	logger := pkglog.L()

	// Connection registry and room manager.
	reg := registry.New(instanceID)
	roomMgr := rooms.NewManager(reg.Drop)

	// Broker bridge for cross-instance fanout.
	bridge, err := broker.New(cfg.Broker, instanceID)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Broker.Driver).Msg("failed to connect to broker")
	}
	defer bridge.Close()
	logger.Info().Str("driver", cfg.Broker.Driver).Msg("broker bridge connected")

	// Durable offline store.
	offlineStore, err := store.New(cfg.Store)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to connect to offline store")
	}
	defer offlineStore.Close()
	logger.Info().Str("driver", cfg.Store.Driver).Msg("offline store connected")

	// Delivery router wires the registry's online hook and subscribes to the
	// bridge, so it must exist before any connection registers.
	rt, err := router.New(reg, roomMgr, bridge, offlineStore, cfg.Router)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start delivery router")
	}
	defer rt.Close()

	notifySvc := service.New(reg, roomMgr, rt)
	verifier := jwt.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	wsHandler := handler.NewWSHandler(reg, notifySvc, verifier, cfg.WebSocket)
	httpHandler := handler.NewHTTPHandler(notifySvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))
	httpHandler.RegisterRoutes(r, wsHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("notify-service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}
	reg.CloseAll()

	logger.Info().Msg("notify-service stopped")
}

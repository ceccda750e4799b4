package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"sneldb/internal/auth"
	"sneldb/internal/config"
	"sneldb/internal/dispatch"
	"sneldb/internal/messaging"
	"sneldb/internal/schema"
	"sneldb/internal/shard"
	"sneldb/internal/storage/block"
)

// main wires the engine's collaborators into a running process (§6.5,
// §6.6): load config, open storage, load the schema registry, build the
// shard pool (replaying every WAL before accepting traffic), build the
// dispatcher, then serve a gin health/status surface and a bare gRPC
// listener side by side. Grounded on the teacher's
// cmd/{http-wrapper,query-server}/main.go pattern: gin for the REST
// surface, grpc.NewServer plus reflection for the RPC surface, signal-
// driven graceful shutdown for both.
func main() {
	log.Println("starting sneldb-server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	storage, err := block.NewFactory().Create(block.Config{Type: "local", BaseDir: cfg.Engine.DataDir})
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}

	registry := schema.NewRegistry(storage)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := registry.Load(ctx); err != nil {
		log.Fatalf("failed to load schema registry: %v", err)
	}

	var bus *messaging.Bus
	if cfg.Messaging.Enabled {
		bus = messaging.NewBus(cfg.Messaging.HistoryLimit)
		defer bus.Close()
	}

	shards, err := shard.NewManager(ctx, cfg, storage, bus)
	if err != nil {
		log.Fatalf("failed to build shard manager: %v", err)
	}
	if err := shards.ReplayAll(ctx, registry); err != nil {
		log.Fatalf("failed to replay WAL: %v", err)
	}
	shards.StartBackground(30*time.Second, 5*time.Minute)
	defer shards.Close()

	var events *messaging.EventPublisher
	if bus != nil {
		events = messaging.NewEventPublisher(bus, "sneldb.server")
		auditConsumer := messaging.NewLifecycleEventConsumer(bus, func(e *messaging.Event) {
			log.Printf("lifecycle event: type=%s source=%s trace=%s", e.Type, e.Source, e.TraceID)
		})
		go func() {
			if err := auditConsumer.Consume(ctx); err != nil && err != context.Canceled {
				log.Printf("lifecycle event consumer stopped: %v", err)
			}
		}()
		defer auditConsumer.Close()
	}

	users := auth.NewUserStore()
	disp := dispatch.New(shards, registry, users, events)

	var authenticator *auth.JWTAuthenticator
	if cfg.Auth.Enabled {
		ttl, err := time.ParseDuration(cfg.Auth.TokenExpiry)
		if err != nil {
			log.Fatalf("invalid auth.token_expiry %q: %v", cfg.Auth.TokenExpiry, err)
		}
		disp.Tokens = auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), "sneldb", ttl)
		authenticator = auth.NewJWTAuthenticator([]byte(cfg.Auth.JWTSecret), "sneldb")
	}

	httpSrv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: newRouter(disp, authenticator)}
	grpcSrv := grpc.NewServer()
	reflection.Register(grpcSrv)

	go func() {
		log.Printf("http listening on %s", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	go func() {
		lis, err := net.Listen("tcp", cfg.Server.TCPAddr)
		if err != nil {
			log.Fatalf("failed to listen on %s: %v", cfg.Server.TCPAddr, err)
		}
		log.Printf("grpc listening on %s", cfg.Server.TCPAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("grpc server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
}

// newRouter builds the gin HTTP surface: a health check and a status
// endpoint reporting shard pool size, neither part of the specified
// protocol (§1) but the ambient operability surface every teacher service
// carries. When authenticator is non-nil (cfg.Auth.Enabled), /status
// requires a valid "Bearer <jwt>" Authorization header carrying
// "status:read" or "*" among its claimed permissions — the one place this
// process verifies the session tokens CREATE USER mints (§6.1, §6.5).
func newRouter(disp *dispatch.Dispatcher, authenticator *auth.JWTAuthenticator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "sneldb"})
	})

	r.GET("/status", requireBearer(authenticator, "status", "read"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "running",
			"shards": len(disp.Shards.Shards()),
		})
	})

	return r
}

// requireBearer is a no-op gate when authenticator is nil (auth disabled),
// otherwise it validates the Authorization header through an AuthMiddleware
// and checks resource:action against the token's claims before letting the
// request through.
func requireBearer(authenticator *auth.JWTAuthenticator, resource, action string) gin.HandlerFunc {
	if authenticator == nil {
		return func(c *gin.Context) { c.Next() }
	}
	mw := auth.NewAuthMiddleware(authenticator)
	return func(c *gin.Context) {
		claims, err := mw.ExtractAndValidateToken(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if err := authenticator.Authorize(c.Request.Context(), claims, resource, action); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

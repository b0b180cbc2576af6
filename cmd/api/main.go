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

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"strata.org/internal/access"
	"strata.org/internal/directory"
	"strata.org/internal/hierarchy"
	"strata.org/internal/httpapi"
	"strata.org/internal/ids"
	"strata.org/internal/obs"
	"strata.org/internal/store/pg"
	"strata.org/internal/stream"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	probe := httpapi.ReadyProbe{}

	var (
		nodes      httpapi.NodeStore
		grantStore access.GrantStore
		userStore  directory.Store
	)
	if dsn := os.Getenv("STRATA_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		probe.DB = store.DB()
		nodes = store
		grantStore = store.Grants()
		userStore = store.Users()
	} else {
		mem, err := devFixtures()
		if err != nil {
			log.Fatalf("dev fixtures: %v", err)
		}
		nodes = mem.nodes
		grantStore = mem.grants
		userStore = mem.users
		log.Printf("STRATA_PG_DSN not set, serving in-memory dev data (admin: %s)", mem.adminEmail)
	}

	accessSvc, err := access.NewService(nodes, grantStore)
	if err != nil {
		log.Fatalf("access service: %v", err)
	}
	users, err := directory.NewService(userStore)
	if err != nil {
		log.Fatalf("directory service: %v", err)
	}
	events := stream.New()

	api := httpapi.New(probe, version, nodes, accessSvc, users, events)

	addr := os.Getenv("STRATA_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcSrv *grpc.Server
	if grpcAddr := os.Getenv("STRATA_GRPC_ADDR"); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, httpapi.NewGRPCServer(probe))
		go func() {
			log.Printf("Starting strata-grpc on %s", grpcAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	log.Printf("Starting strata-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Println("Stopped")
}

type devData struct {
	nodes      *hierarchy.MemoryStore
	grants     *access.InMemoryGrants
	users      *directory.InMemory
	adminEmail string
}

// devFixtures builds a small in-memory forest with a bootstrap admin so the
// API is usable without a database.
func devFixtures() (*devData, error) {
	rootID := ids.NewPrefixed("org")
	nodes, err := hierarchy.NewMemoryStore([]*hierarchy.Node{
		{ID: rootID, Name: "Head Office", Path: hierarchy.Path{"org"}, IsActive: true},
	})
	if err != nil {
		return nil, err
	}
	grants := access.NewInMemoryGrants()
	userStore := directory.NewInMemory(nodes)
	users, err := directory.NewService(userStore)
	if err != nil {
		return nil, err
	}

	email := os.Getenv("STRATA_BOOTSTRAP_EMAIL")
	if email == "" {
		email = "admin@localhost.dev"
	}
	password := os.Getenv("STRATA_BOOTSTRAP_PASSWORD")
	if password == "" {
		password = "admin"
	}
	admin, err := users.Create(context.Background(), email, password, rootID)
	if err != nil {
		return nil, err
	}
	err = grants.Create(context.Background(), &access.Grant{
		ID:                   ids.NewPrefixed("grt"),
		UserID:               admin.ID,
		HierarchyID:          rootID,
		Role:                 access.RoleAdmin,
		InheritToDescendants: true,
		GrantedBy:            admin.ID,
		GrantedAt:            time.Now().UTC(),
		IsActive:             true,
	})
	if err != nil {
		return nil, err
	}
	return &devData{nodes: nodes, grants: grants, users: userStore, adminEmail: email}, nil
}

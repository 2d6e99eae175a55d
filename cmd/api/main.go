package main

import (
	"context"
	"crypto/rand"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"docvault.org/internal/catalog"
	"docvault.org/internal/docs"
	"docvault.org/internal/entitlement"
	"docvault.org/internal/httpapi"
	"docvault.org/internal/obs"
	"docvault.org/internal/payment"
	"docvault.org/internal/store/pg"
	"docvault.org/internal/stream"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	httpAddr := envOr("DOCVAULT_HTTP_ADDR", ":8080")
	grpcAddr := envOr("DOCVAULT_GRPC_ADDR", ":9090")

	deps, probe, cleanup := buildDeps()
	defer cleanup()

	api := httpapi.New(probe, version, deps)

	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("docvault-api %s serving HTTP on %s", version, httpAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("docvault-api %s serving gRPC health on %s", version, grpcAddr)
		return httpapi.ServeGRPC(ctx, httpapi.NewGRPCServer(probe), grpcAddr)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("serve: %v", err)
	}
	log.Println("stopped")
}

// buildDeps wires the service graph: Postgres when DOCVAULT_PG_DSN is set,
// otherwise the in-memory stores with the demo catalog.
func buildDeps() (httpapi.Deps, httpapi.ReadyProbe, func()) {
	signer := docs.NewRefSigner(contentRefSecret(), docs.DefaultRefTTL)

	if dsn := os.Getenv("DOCVAULT_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		decision := entitlement.NewDecision(store)
		return httpapi.Deps{
				Payments: store,
				Catalog:  store,
				Grants:   store,
				Decision: decision,
				Gateway:  docs.NewGateway(store, decision, signer),
				Notices:  stream.New(),
			}, httpapi.ReadyProbe{DB: store.DB()}, func() {
				_ = store.Close()
			}
	}

	cat := catalog.Fixture()
	grants := entitlement.NewInMemory()
	decision := entitlement.NewDecision(grants)
	return httpapi.Deps{
		Payments: payment.NewInMemory(cat, grants),
		Catalog:  cat,
		Grants:   grants,
		Decision: decision,
		Gateway:  docs.NewGateway(cat, decision, signer),
		Notices:  stream.New(),
	}, httpapi.ReadyProbe{}, func() {}
}

// contentRefSecret signs the per-session content references. It reuses the
// auth secret so a single secret rotates both; without one (dev mode) a
// process-local random secret is generated, which invalidates refs across
// restarts and that is fine.
func contentRefSecret() []byte {
	if s := os.Getenv("DOCVAULT_AUTH_SECRET"); s != "" {
		return []byte(s)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		log.Fatalf("generate content ref secret: %v", err)
	}
	return secret
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

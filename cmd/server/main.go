package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codebymv/Itemize-sub008/internal/auth"
	"github.com/codebymv/Itemize-sub008/internal/blob"
	"github.com/codebymv/Itemize-sub008/internal/notify"
	"github.com/codebymv/Itemize-sub008/internal/render"
	"github.com/codebymv/Itemize-sub008/internal/routing"
	"github.com/codebymv/Itemize-sub008/internal/store"
	"github.com/codebymv/Itemize-sub008/pkg/db"
)

// maxSignerBody caps unauthenticated request bodies. Field values carry
// inline signature images, so the cap is generous but finite.
const maxSignerBody = 25 << 20

func main() {
	ctx := context.Background()

	pool := db.MustConnect(ctx)
	if err := store.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	st := store.New(pool)

	port := strings.TrimSpace(os.Getenv("SERVICE_PORT"))
	if port == "" {
		port = "8080"
	}
	secret := []byte(strings.TrimSpace(os.Getenv("JWT_SECRET")))
	if len(secret) == 0 {
		log.Fatal("JWT_SECRET is required")
	}
	baseURL := strings.TrimSpace(os.Getenv("BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}
	baseURL = strings.TrimRight(baseURL, "/")

	blobs, err := openBlobStore(ctx)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	eng := &routing.Engine{
		Store:    st,
		Notifier: notifierAdapter{notify.LogNotifier{}},
		Renderer: render.Passthrough{Blobs: blobs},
		BaseURL:  baseURL,
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/api", func(api chi.Router) {
		registerAuthRoutes(api, st, secret)
		api.Group(func(priv chi.Router) {
			priv.Use(auth.Middleware(secret))
			registerOperatorRoutes(priv, st, eng, blobs)
		})
	})
	r.Route("/sign", func(sr chi.Router) {
		registerSignerRoutes(sr, eng, blobs)
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("listening on :%s", port)
	log.Fatal(srv.ListenAndServe())
}

// openBlobStore prefers S3 when a bucket is configured, otherwise local disk.
func openBlobStore(ctx context.Context) (blob.Store, error) {
	if bucket := strings.TrimSpace(os.Getenv("S3_BUCKET")); bucket != "" {
		return blob.NewS3Store(ctx, bucket, strings.TrimSpace(os.Getenv("S3_PREFIX")))
	}
	dir := strings.TrimSpace(os.Getenv("BLOB_DIR"))
	if dir == "" {
		dir = "./blobs"
	}
	return blob.NewLocalStore(dir)
}

// notifierAdapter bridges the engine's notifier seam to the notify package.
type notifierAdapter struct{ n notify.Notifier }

func (a notifierAdapter) Send(ctx context.Context, m routing.Message) error {
	return a.n.Send(ctx, notify.Message{
		To: m.To, ToName: m.ToName, Subject: m.Subject, Body: m.Body, SignLink: m.SignLink,
	})
}

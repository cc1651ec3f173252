package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"distributed-download-service/internal/api"
	"distributed-download-service/internal/artifact"
	"distributed-download-service/internal/clock"
	"distributed-download-service/internal/config"
	"distributed-download-service/internal/queue"
	"distributed-download-service/internal/registry"
	"distributed-download-service/internal/service"
	"distributed-download-service/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	clk := clock.New()

	storage, err := artifact.NewS3Storage(ctx, artifact.S3Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		log.Fatalf("configure object storage: %v", err)
	}
	stager := artifact.New(storage, cfg.ArtifactURLTTL)

	reg := registry.New(clk)
	reg.Start(cfg.SweepInterval)
	defer reg.Stop()

	q := queue.New(cfg.QueueCapacity)

	pool := worker.New(worker.Config{
		Concurrency:          cfg.WorkerConcurrency,
		DelayMin:             cfg.DelayMin,
		DelayMax:             cfg.DelayMax,
		ProgressTickInterval: cfg.ProgressTickInterval,
		PerAttemptTimeout:    cfg.PerAttemptTimeout,
		BackoffBase:          cfg.BackoffBase,
		BackoffMax:           cfg.BackoffMax,
		ShutdownGrace:        cfg.ShutdownGrace,
	}, clk, reg, q, stager)
	pool.Start(ctx)

	facade := service.New(clk, reg, q, cfg.JobTTL, cfg.MaxAttempts)

	server := api.New(facade, storage)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("download service listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)

	pool.Stop()
}

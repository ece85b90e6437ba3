package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"interview-coordinator/infrastructure"
	"interview-coordinator/infrastructure/config"
	"interview-coordinator/infrastructure/logger"
	"interview-coordinator/interfaces"
	"interview-coordinator/usecase/answers"
	"interview-coordinator/usecase/lifecycle"
	"interview-coordinator/usecase/questions"
	"interview-coordinator/usecase/room"
	"interview-coordinator/usecase/scoring"
	"interview-coordinator/usecase/signaling"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket server with the evaluation workers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// evaluationQueue is the stage-two transport: RabbitMQ when enabled, the
// in-process worker pool otherwise.
type evaluationQueue interface {
	answers.Queue
	Close() error
}

type poolQueue struct{ *answers.WorkerPool }

func (p poolQueue) Close() error {
	p.Stop()
	return nil
}

func startQueue(ctx context.Context, cfg *config.Config, evaluator *answers.Evaluator, log logger.Logger) (evaluationQueue, error) {
	if cfg.RabbitMQ.Enabled {
		rmq, err := infrastructure.NewRabbitMQ(cfg.RabbitMQ, log)
		if err != nil {
			return nil, err
		}
		if err := rmq.Consume(ctx, cfg.Pipeline.Workers, evaluator.Process); err != nil {
			_ = rmq.Close()
			return nil, err
		}
		return rmq, nil
	}

	pool := answers.NewWorkerPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, evaluator.Process, log)
	pool.Start(ctx)
	return poolQueue{pool}, nil
}

func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, err := openStorage(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.close()

	cache, closeCache := openRankingCache(ctx, cfg.Redis, log)
	defer closeCache()

	gemini, err := infrastructure.NewGeminiClient(ctx, cfg.Gemini, log)
	if err != nil {
		return fmt.Errorf("init gemini client: %w", err)
	}

	rooms := room.NewRegistry(log)
	relay := signaling.NewRelay(rooms, log)
	distributor := questions.NewDistributor(rooms, store.sessions, cfg.Pipeline.PersistTimeout, log)
	evaluator := answers.NewEvaluator(store.sessions, gemini, rooms, cfg.Pipeline.EvaluationTimeout, log)

	queue, err := startQueue(ctx, cfg, evaluator, log)
	if err != nil {
		return fmt.Errorf("start evaluation queue: %w", err)
	}

	pipeline := answers.NewPipeline(store.sessions, store.jobs, rooms, queue, log)
	sessions := lifecycle.NewService(store.sessions, cfg.Pipeline.ConflictRetries, log)
	scores := scoring.NewService(store.sessions, store.applications, store.jobs, store.scores, cache, cfg.Pipeline.ConflictRetries, log)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), interfaces.RequestLogger(log))
	interfaces.NewHTTPHandler(router, sessions, pipeline, scores)
	interfaces.NewWSHandler(router, rooms, relay, distributor, pipeline, sessions, *cfg, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", map[string]interface{}{
			"addr":     cfg.Server.Addr,
			"storage":  cfg.Database.Driver,
			"rabbitmq": cfg.RabbitMQ.Enabled,
			"redis":    cfg.Redis.Enabled,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", nil)

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)

		// Background question writes and queued evaluations finish before exit.
		distributor.Wait()
		if qErr := queue.Close(); qErr != nil {
			log.WithError(qErr).Warn("evaluation queue close failed", nil)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped", nil)
	return nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"LegisGraph/backend/go/internal/api"
	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/database/etcd"
	"LegisGraph/backend/go/internal/database/kafka"
	"LegisGraph/backend/go/internal/database/milvus"
	"LegisGraph/backend/go/internal/database/minio"
	"LegisGraph/backend/go/internal/database/mongo"
	"LegisGraph/backend/go/internal/database/mysql"
	kgneo4j "LegisGraph/backend/go/internal/database/neo4j"
	"LegisGraph/backend/go/internal/database/redis"
	discovery "LegisGraph/backend/go/internal/discovery/etcd"
	"LegisGraph/backend/go/internal/embedding"
	"LegisGraph/backend/go/internal/kg/archive"
	"LegisGraph/backend/go/internal/kg/coordinator"
	"LegisGraph/backend/go/internal/kg/disambiguation"
	"LegisGraph/backend/go/internal/kg/follower"
	"LegisGraph/backend/go/internal/kg/ingest"
	"LegisGraph/backend/go/internal/kg/ledger"
	"LegisGraph/backend/go/internal/kg/projector"
	"LegisGraph/backend/go/internal/kg/query"
	"LegisGraph/backend/go/internal/kg/resolver"
	"LegisGraph/backend/go/internal/kg/vectorsync"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/circuitbreaker"
	grpcserver "LegisGraph/backend/go/pkg/grpc"
	httpserver "LegisGraph/backend/go/pkg/http"
	"LegisGraph/backend/go/pkg/logger"

	goredis "github.com/go-redis/redis/v8"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const defaultConfigPath = "backend/go/configs/kg_service.yaml"

const (
	// healthInterval 是 gRPC 健康状态的刷新间隔。
	healthInterval    = 15 * time.Second
	tokenizerEncoding = "cl100k_base"
)

func main() {
	path := os.Getenv("KG_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	serviceLogger := logger.New("KGService", "", "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, serviceLogger); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("service stopped with error")
	}
	serviceLogger.Info("Server gracefully stopped")
}

type checkSet map[string]func(ctx context.Context) error

func run(ctx context.Context, cfg *config.AppConfig, serviceLogger *logger.Logger) error {
	checks := checkSet{}
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// 账本
	db, err := mysql.GetDB(&cfg.Databases.MySQL)
	if err != nil {
		return err
	}
	if err := mysql.AutoMigrate(db); err != nil {
		return err
	}
	closers = append(closers, func() { _ = mysql.Close() })
	checks["mysql"] = mysql.HealthCheck
	serviceLogger.WithField("driver", cfg.Databases.MySQL.Driver).Info("ledger database ready")

	// Redis 是可选的: 幂等快速路径和 redis 锁
	var rdb goredis.UniversalClient
	if cfg.Databases.Redis.Address != "" {
		client, err := redis.GetClient(&cfg.Databases.Redis)
		if err != nil {
			return err
		}
		rdb = client
		closers = append(closers, func() { _ = redis.Close() })
		checks["redis"] = redis.HealthCheck
	}
	var etcdClient *clientv3.Client
	if cfg.Coordinator.LockBackend == "etcd" || cfg.Server.AdvertiseAddr != "" {
		if etcdClient, err = etcd.GetClient(&cfg.Databases.Etcd); err != nil {
			return err
		}
		closers = append(closers, func() { _ = etcd.Close() })
		checks["etcd"] = etcd.HealthCheck
	}
	locker, err := coordinator.NewLocker(cfg.Coordinator, rdb, etcdClient)
	if err != nil {
		return err
	}
	if el, ok := locker.(*coordinator.EtcdLocker); ok {
		closers = append(closers, func() { _ = el.Close() })
	}

	store := ledger.NewGormStore(db)
	coord := coordinator.New(store, locker, cfg.Coordinator.RankFor, serviceLogger)

	// 消歧请求: 配置了 MongoDB 时持久化, 否则只保存在内存
	var disambiguations disambiguation.Store = disambiguation.NewMemoryStore()
	if cfg.Databases.MongoDB.Address != "" {
		mdb, err := mongo.Database(&cfg.Databases.MongoDB)
		if err != nil {
			return err
		}
		disambiguations = disambiguation.NewMongoStore(mdb, cfg.Resolver.DisambiguationCollection)
		closers = append(closers, func() { _ = mongo.Close(context.Background()) })
		checks["mongodb"] = mongo.HealthCheck
	}
	identities := resolver.NewGormStore(db)
	res := resolver.New(identities, disambiguations, cfg.Resolver, serviceLogger)

	// 投影
	cursors := follower.NewGormCursorStore(db)
	var followers []*follower.Follower
	receipts := ingest.NewGormReceiptStore(db)
	queryOpts := []query.Option{query.WithReceipts(receipts)}

	if cfg.Databases.Neo4j.Uri != "" {
		nc, err := kgneo4j.GetClient(ctx, &cfg.Databases.Neo4j)
		if err != nil {
			return err
		}
		nc.EnsureConstraints(ctx, projector.Constraints)
		closers = append(closers, func() { nc.Close(context.Background()) })
		checks["neo4j"] = nc.HealthCheck

		proj := projector.New(store, identities, projector.NewNeo4jGraph(nc), serviceLogger)
		f, err := newFollower(store, cursors, proj, cfg, serviceLogger)
		if err != nil {
			return err
		}
		followers = append(followers, f)
		queryOpts = append(queryOpts, query.WithGraph(proj))
	} else {
		serviceLogger.Warn("neo4j is not configured, graph projection disabled")
	}

	syncer, err := newSyncer(ctx, cfg, store, identities, db, checks, &closers, serviceLogger)
	if err != nil {
		return err
	}
	if syncer != nil {
		f, err := newFollower(store, cursors, syncer, cfg, serviceLogger)
		if err != nil {
			return err
		}
		followers = append(followers, f)
		queryOpts = append(queryOpts, query.WithVectors(syncer))
	}
	queryOpts = append(queryOpts, query.WithFollowers(followers...))
	coord.OnAppend(func([]models.Fact) {
		for _, f := range followers {
			f.Wake()
		}
	})

	// 候选队列
	kc, err := kafka.GetClient(&cfg.Databases.Kafka)
	if err != nil {
		return err
	}
	closers = append(closers, func() { _ = kc.Close() })
	checks["kafka"] = kc.HealthCheck

	var guard ingest.Guard
	if rdb != nil {
		guard = ingest.NewRedisGuard(rdb, "kg:receipt:", cfg.Ingestion.ReceiptTTL.Std())
	}
	publisher := ingest.NewPublisher(kc.Writer, cfg.Databases.Kafka, cfg.Ingestion, serviceLogger)
	ingestSvc := ingest.NewService(receipts, guard, publisher, serviceLogger)
	pipeline := ingest.NewPipeline(res, coord, receipts, serviceLogger)
	consumer := ingest.NewConsumer(kc.Reader, publisher, pipeline, cfg.Ingestion, serviceLogger)

	querySvc := query.New(store, res, serviceLogger, queryOpts...)
	apiOpts := []api.Option{
		api.WithMerger(resolver.NewMerger(res, coord)),
		api.WithDisambiguations(disambiguations),
	}

	if cfg.Databases.MinIO.Endpoint != "" {
		mc, err := minio.GetClient(&cfg.Databases.MinIO)
		if err != nil {
			return err
		}
		checks["minio"] = minio.HealthCheck
		apiOpts = append(apiOpts, api.WithArchiver(archive.New(store, cursors, mc, cfg.Databases.MinIO.Bucket, serviceLogger)))
	}
	for name, check := range checks {
		apiOpts = append(apiOpts, api.WithHealthCheck(name, check))
	}

	// 对外接口
	httpSrv, err := httpserver.NewServer(cfg, serviceLogger, httpserver.WithAddress(cfg.Server.HTTPAddress))
	if err != nil {
		return err
	}
	api.RegisterRoutes(httpSrv.Engine(), api.NewAPI(ingestSvc, querySvc, serviceLogger, apiOpts...))

	var grpcSrv *grpcserver.Server
	if cfg.Server.GRPCAddress != "" {
		if grpcSrv, err = grpcserver.NewServer(cfg, serviceLogger, grpcserver.WithAddress(cfg.Server.GRPCAddress)); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.AdvertiseAddr != "" {
		registry := discovery.NewRegistry(etcdClient, discovery.DefaultPrefix)
		done, err := registry.Register(gctx, discovery.ServiceHTTP, cfg.Server.AdvertiseAddr, cfg.Server.RegistrationTTL.Std())
		if err != nil {
			return err
		}
		g.Go(func() error {
			<-done
			return nil
		})
		serviceLogger.WithField("key", registry.Key(discovery.ServiceHTTP, cfg.Server.AdvertiseAddr)).Info("registered in etcd")
	}
	g.Go(httpSrv.ListenAndServe)
	g.Go(func() error { return consumer.Run(gctx) })
	for _, f := range followers {
		g.Go(func() error { return f.Run(gctx) })
	}
	if grpcSrv != nil {
		grpcChecks := make(map[string]grpcserver.Check, len(checks))
		for name, check := range checks {
			grpcChecks[name] = check
		}
		g.Go(grpcSrv.ListenAndServe)
		g.Go(func() error {
			grpcSrv.WatchHealth(gctx, healthInterval, grpcChecks)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		serviceLogger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	serviceLogger.WithPayload(map[string]interface{}{
		"http":      cfg.Server.HTTPAddress,
		"grpc":      cfg.Server.GRPCAddress,
		"followers": len(followers),
		"workers":   cfg.Ingestion.Workers,
	}).Info("knowledge graph service started")
	return g.Wait()
}

func newFollower(store ledger.Store, cursors follower.CursorStore, h follower.Handler, cfg *config.AppConfig, log *logger.Logger) (*follower.Follower, error) {
	breaker, err := circuitbreaker.FromConfig(cfg.Middleware.CircuitBreaker)
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit breaker for %s: %w", h.Name(), err)
	}
	return follower.New(store, cursors, h, cfg.Follower, breaker, log), nil
}

// newSyncer 在 embedding 和 Milvus 都已配置时创建向量同步器, 否则返回 nil。
func newSyncer(ctx context.Context, cfg *config.AppConfig, store ledger.Store, entities vectorsync.EntityLookup,
	db *gorm.DB, checks checkSet, closers *[]func(), log *logger.Logger) (*vectorsync.Syncer, error) {
	emb, err := embedding.NewEmdModel(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	if emb == nil || cfg.Databases.Milvus.Address == "" {
		log.Warn("embedding or milvus is not configured, vector sync disabled")
		return nil, nil
	}
	if closer, ok := emb.(interface{ Close() error }); ok {
		*closers = append(*closers, func() { _ = closer.Close() })
	}

	mc, err := milvus.GetClient(ctx, &cfg.Databases.Milvus)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, mc.Close)
	if err := mc.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	if interval := cfg.Databases.Milvus.AutoFlushInterval.Std(); interval > 0 {
		mc.StartAutoFlush(interval)
		*closers = append(*closers, func() { mc.StopAutoFlush(context.Background()) })
	}
	checks["milvus"] = mc.HealthCheck

	cache := embedding.NewCache(emb, db, cfg.Vector.CacheCapacity, log)
	if err := cache.Warm(ctx); err != nil {
		log.WithError(models.ErrorInfo{Message: err.Error()}).Warn("embedding cache warm-up failed")
	}
	tok, err := vectorsync.NewTiktokenTokenizer(tokenizerEncoding)
	if err != nil {
		log.WithError(models.ErrorInfo{Message: err.Error()}).Warn("falling back to word tokenizer")
		tok = vectorsync.WordTokenizer{}
	}
	return vectorsync.New(store, entities, db, cache, vectorsync.NewMilvusIndex(mc), vectorsync.NewChunker(tok, cfg.Vector), cfg.Vector, log), nil
}

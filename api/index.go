package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"campus-orgs-backend/pkg/config"
	"campus-orgs-backend/pkg/database"
	"campus-orgs-backend/pkg/handlers"
	"campus-orgs-backend/pkg/logging"
	"campus-orgs-backend/pkg/metrics"
	customMiddleware "campus-orgs-backend/pkg/middleware"
	"campus-orgs-backend/pkg/profile"
	"campus-orgs-backend/pkg/utils"
)

// jsonBodyLimit caps JSON request bodies; uploads have their own limit.
const jsonBodyLimit = 64 << 10

var (
	loggerOnce   sync.Once
	cachedLogger *slog.Logger
)

// Handler 是Vercel函数的入口点
// 这个函数实现了"单体路由模式"，将所有API端点集中在一个Chi路由器中管理
func Handler(w http.ResponseWriter, r *http.Request) {
	// 加载配置
	cfg := config.GetCached()

	// 验证配置
	if err := cfg.Validate(); err != nil {
		utils.WriteInternalServerErrorResponse(w, "Configuration error: "+err.Error())
		return
	}

	logger := serverlessLogger(cfg)

	// 每个冷启动只初始化一次后端, 热调用复用
	backend, err := database.GetBackend(r.Context(), BackendConfig(cfg, logger))
	if err != nil {
		logger.Error("backend unavailable", "error", err)
		utils.WriteErrorResponseWithCode(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE",
			"The backend is not available, please try again", "")
		return
	}

	NewRouter(cfg, backend, logger).ServeHTTP(w, r)
}

// BackendConfig maps the application config onto the backend selection.
func BackendConfig(cfg *config.Config, logger *slog.Logger) database.BackendConfig {
	return database.BackendConfig{
		UseLocalDB:  cfg.UseLocalDB,
		DataDir:     cfg.DataDir,
		PostgresDSN: cfg.PostgresDSN,
		SupabaseURL: cfg.SupabaseURL,
		SupabaseKey: cfg.SupabaseKey,
		JWTSecret:   cfg.JWTSecret,
		PublicURL:   cfg.PublicURL,
		Logger:      logger,
	}
}

// NewRouter builds the complete API on top of an already constructed backend.
func NewRouter(cfg *config.Config, backend *database.Backend, logger *slog.Logger) *chi.Mux {
	router := chi.NewRouter()

	// 设置全局中间件
	setupMiddleware(router, cfg, logger)

	// 设置路由
	setupRoutes(router, cfg, backend, logger)

	return router
}

func serverlessLogger(cfg *config.Config) *slog.Logger {
	loggerOnce.Do(func() {
		logger, err := logging.Init(cfg.LogLevel)
		if err != nil {
			logger, _ = logging.Init("info")
			logger.Warn("invalid LOG_LEVEL, falling back to info", "error", err)
		}
		cachedLogger = logger
	})
	return cachedLogger
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, cfg *config.Config, logger *slog.Logger) {
	// 基础中间件
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize path and restore scheme/host before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.RequestLogger(logger))
	router.Use(customMiddleware.Recovery(cfg, logger))
	router.Use(customMiddleware.Metrics)

	// CORS中间件
	router.Use(customMiddleware.CORS(cfg))

	// 超时中间件（Vercel函数有时间限制）
	router.Use(middleware.Timeout(25 * time.Second)) // 留5秒缓冲

	// 压缩中间件
	router.Use(middleware.Compress(5))

	// 开发环境额外中间件
	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有API路由
func setupRoutes(router *chi.Mux, cfg *config.Config, backend *database.Backend, logger *slog.Logger) {
	// 创建处理器
	authHandler := handlers.NewAuthHandler(cfg, backend, logger)
	postsHandler := handlers.NewPostsHandler(backend, cfg.LikeAtomicIncrement, logger)
	loc, err := cfg.Location()
	if err != nil {
		logger.Warn("invalid TIMEZONE, using UTC", "timezone", cfg.TimeZone, "error", err)
		loc = time.UTC
	}
	eventsHandler := handlers.NewEventsHandler(backend, loc, logger)
	orgsHandler := handlers.NewOrgsHandler(backend, logger)
	profileHandler := handlers.NewProfileHandler(
		profile.NewService(backend.DB, backend.Storage, profile.Options{
			Bucket:         cfg.StorageBucket,
			SignedURLTTL:   cfg.SignedURLTTL,
			MaxUploadBytes: cfg.MaxUploadBytes,
			Logger:         logger,
		}),
		cfg.MaxUploadBytes,
		logger,
	)

	requireAuth := customMiddleware.RequireAuth(backend.Auth, logger)
	optionalAuth := customMiddleware.OptionalAuth(backend.Auth, logger)
	jsonBody := chi.Chain(customMiddleware.ContentTypeJSON, customMiddleware.MaxBodySize(jsonBodyLimit))

	// 健康检查端点
	router.Get("/", authHandler.HealthCheck)
	router.Handle("/metrics", metrics.Handler())

	// 本地文件存储的签名链接
	if files, ok := backend.Storage.(*database.FileStorage); ok {
		mediaHandler := handlers.NewMediaHandler(files, logger)
		router.Get(database.MediaRoute+"/{bucket}/*", mediaHandler.ServeObject)
	}

	// API路由组
	router.Route("/api", func(r chi.Router) {
		// 公开路由（不需要认证）
		r.Route("/auth", func(r chi.Router) {
			r.With(jsonBody...).Post("/signup", authHandler.SignUp)
			r.With(jsonBody...).Post("/signin", authHandler.SignIn)
			r.With(jsonBody...).Post("/refresh", authHandler.RefreshToken)

			r.With(requireAuth).Post("/signout", authHandler.SignOut)
			r.With(requireAuth).With(jsonBody...).Put("/password", authHandler.ChangePassword)
		})

		// 可选认证: 有会话时返回 is_liked 与会员专属内容
		r.Group(func(r chi.Router) {
			r.Use(optionalAuth)

			r.Get("/posts", postsHandler.ListPosts)
			r.Get("/posts/{id}", postsHandler.GetPost)
			r.Get("/events", eventsHandler.ListEvents)
			r.Get("/orgs", orgsHandler.ListOrganizations)
			r.Get("/orgs/{id}", orgsHandler.GetOrganization)
		})

		// 需要认证的路由
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/session", authHandler.Session)
			r.With(customMiddleware.MaxBodySize(jsonBodyLimit)).Post("/posts/{id}/like", postsHandler.ToggleLike)
			r.Get("/orgs/mine", orgsHandler.ListMyOrganizations)

			r.Route("/profile", func(r chi.Router) {
				r.Get("/", profileHandler.GetProfile)
				r.Post("/", profileHandler.SetupProfile)
				r.With(jsonBody...).Put("/", profileHandler.UpdateProfile)
				r.Get("/picture", profileHandler.GetPictureURL)
				r.With(customMiddleware.ContentTypeMultipart).Post("/picture", profileHandler.UploadPicture)
			})
		})
	})

	// 404处理
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	// 405处理
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}

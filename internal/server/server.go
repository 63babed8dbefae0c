package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mossline/filterhub/internal/backup"
	"github.com/mossline/filterhub/internal/handler"
	"github.com/mossline/filterhub/internal/middleware"
	"github.com/mossline/filterhub/internal/push"
	"github.com/mossline/filterhub/internal/store"
	ws "github.com/mossline/filterhub/internal/websocket"
)

// Config carries everything New needs beyond the database handle.
type Config struct {
	SecureCookies bool
	Backup        backup.Config
	VAPIDPublic   string
	VAPIDPrivate  string
	PushContact   string
}

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	authH         *handler.AuthHandler
	filterH       *handler.FilterHandler
	categoryH     *handler.CategoryHandler
	shareH        *handler.ShareHandler
	pushH         *handler.PushHandler
	backupH       *handler.BackupHandler
	sessionStore  *store.SessionStore
	rateLimiter   *middleware.RateLimiter
	backupManager *backup.Manager
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	filterStore := store.NewFilterStore(db)
	categoryStore := store.NewCategoryStore(db)
	shareStore := store.NewShareStore(db)
	pushStore := store.NewPushStore(db)
	settingsStore := store.NewSettingsStore(db)
	backupStore := store.NewBackupStore(db)

	backupMgr := backup.NewManager(cfg.Backup, db, backupStore, settingsStore, func(s backup.Status) {
		hub.Broadcast(ws.Message{
			Type:   "backup_status",
			Entity: "backup",
			Action: string(s.State),
			Extra: map[string]any{
				"in_progress": s.InProgress,
				"error":       s.Error,
			},
		})
	}, logger)

	var pushSvc *push.Service
	var notifier *push.Notifier
	var pushH *handler.PushHandler
	if cfg.VAPIDPublic != "" && cfg.VAPIDPrivate != "" {
		pushSvc = push.NewService(cfg.VAPIDPublic, cfg.VAPIDPrivate, cfg.PushContact)
		notifier = push.NewNotifier(pushSvc, pushStore, logger)
		pushH = handler.NewPushHandler(pushStore, pushSvc, logger)
	}

	return &Server{
		db:            db,
		hub:           hub,
		authH:         handler.NewAuthHandler(userStore, sessionStore, logger, cfg.SecureCookies),
		filterH:       handler.NewFilterHandler(filterStore, hub, logger),
		categoryH:     handler.NewCategoryHandler(categoryStore, hub, logger),
		shareH:        handler.NewShareHandler(shareStore, filterStore, hub, notifier, logger),
		pushH:         pushH,
		backupH:       handler.NewBackupHandler(backupMgr, backupStore, logger),
		sessionStore:  sessionStore,
		rateLimiter:   middleware.NewRateLimiter(),
		backupManager: backupMgr,
		logger:        logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager so main can run its schedule.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /api/auth/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("GET /api/public/filters", s.filterH.ListPublic)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes — wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	logged := middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
	return middleware.RequestID(logged)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)

	// Filter CRUD
	mux.HandleFunc("POST /api/filters", s.filterH.Create)
	mux.HandleFunc("GET /api/filters/uncategorized", s.filterH.ListUncategorized)
	mux.HandleFunc("GET /api/filters/{id}", s.filterH.Get)
	mux.HandleFunc("PUT /api/filters/{id}", s.filterH.Update)
	mux.HandleFunc("DELETE /api/filters/{id}", s.filterH.Delete)
	mux.HandleFunc("POST /api/filters/{id}/export", s.filterH.Export)

	// Placement
	mux.HandleFunc("PUT /api/filters/{id}/category", s.filterH.MoveToCategory)
	mux.HandleFunc("PUT /api/filters/{id}/subcategory", s.filterH.MoveToSubcategory)
	mux.HandleFunc("PUT /api/filters/{id}/uncategorize", s.filterH.MoveToUncategorized)
	mux.HandleFunc("PUT /api/filters/{id}/clear-category", s.filterH.ClearCategory)

	// Categories
	mux.HandleFunc("GET /api/categories", s.categoryH.Hierarchy)
	mux.HandleFunc("POST /api/categories", s.categoryH.Create)
	mux.HandleFunc("PUT /api/categories/{id}", s.categoryH.Rename)
	mux.HandleFunc("DELETE /api/categories/{id}", s.categoryH.Delete)

	// Sharing
	mux.HandleFunc("GET /api/share/token", s.shareH.Token)
	mux.HandleFunc("POST /api/share/token/revoke", s.shareH.RevokeToken)
	mux.HandleFunc("GET /api/share/validate/{token}", s.shareH.ValidateToken)
	mux.HandleFunc("POST /api/filters/{id}/share", s.shareH.ShareFilter)
	mux.HandleFunc("POST /api/share/category", s.shareH.ShareCategory)
	mux.HandleFunc("GET /api/shared", s.shareH.ListReceived)
	mux.HandleFunc("DELETE /api/shared/{id}", s.shareH.DeleteReceived)

	// Push notifications
	if s.pushH != nil {
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("POST /api/push/unsubscribe", s.pushH.Unsubscribe)
	}

	// Backups
	mux.HandleFunc("GET /api/backups", s.backupH.List)
	mux.HandleFunc("GET /api/backups/status", s.backupH.Status)
	mux.HandleFunc("POST /api/backups/run", s.backupH.Run)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
}

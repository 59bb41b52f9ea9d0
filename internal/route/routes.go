package route

import (
	"net/http"
	"os"
	"path/filepath"

	"echoes/internal/config"
	"echoes/internal/handler"
	"echoes/internal/logger"
	"echoes/internal/middleware"
	"echoes/internal/service"
)

// StaticDirectory holds the HTML pages and assets.
const StaticDirectory = "static"

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join(StaticDirectory, filepath.Clean("/"+path)+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers HTTP routes, static file serving and API endpoints,
// and wraps the mux with the authentication middleware.
func SetupRoutes(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(StaticDirectory))))

	// Canvas and controls
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(manager, logger))
	mux.HandleFunc("/api/control", handler.ControlWebsocketHandler(manager, logger))
	mux.HandleFunc("/api/command", handler.CommandHandler(manager, logger))
	mux.HandleFunc("/api/state", handler.StateHandler(manager, logger))
	mux.HandleFunc("/api/background", handler.BackgroundUploadHandler(manager, cfg, logger))

	// Remote cameras
	mux.HandleFunc("/api/camera", handler.CameraWebsocketHandler(manager, cfg, logger))
	mux.HandleFunc("/api/camera/upload", handler.CameraUploadHandler(manager, cfg, logger))

	// Snapshot gallery
	snapshotsRepo := manager.GetSnapshotRepository()
	mux.HandleFunc("/api/snapshots", handler.GetSnapshotsHandler(logger, snapshotsRepo))
	mux.HandleFunc("/api/snapshots/view", handler.ViewSnapshotHandler(cfg))
	mux.HandleFunc("/api/snapshots/clear", handler.ClearSnapshotsHandler(cfg, logger, snapshotsRepo))
	mux.HandleFunc("/api/snapshots/delete", handler.DeleteSnapshotHandler(cfg, logger, snapshotsRepo))

	// Log endpoints
	mux.HandleFunc("/logs/info", handler.ShowInfoLogsHandler(cfg))
	mux.HandleFunc("/logs/warning", handler.ShowWarningLogsHandler(cfg))
	mux.HandleFunc("/logs/error", handler.ShowErrorLogsHandler(cfg))

	mux.HandleFunc("/logs/info/clear", handler.ClearInfoLogsHandler(logger))
	mux.HandleFunc("/logs/warning/clear", handler.ClearWarningLogsHandler(logger))
	mux.HandleFunc("/logs/error/clear", handler.ClearErrorLogsHandler(logger))

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(cfg, logger))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	// Automatic HTML handler mapping for example: /gallery -> /static/gallery.html
	mux.HandleFunc("/", dynamicHTMLHandler)

	return middleware.AuthMiddleware(mux)
}

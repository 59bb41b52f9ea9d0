package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"echoes/internal/config"
	"echoes/internal/dto"
	"echoes/internal/logger"
	"echoes/internal/service"
)

// CommandHandler accepts a single control message as JSON over POST.
func CommandHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var msg dto.ControlMessage
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&msg); err != nil {
			http.Error(w, "Invalid control message", http.StatusBadRequest)
			return
		}

		if err := manager.HandleControlMessage(msg); err != nil {
			logger.Warning("Control message rejected: %v", err)
			switch {
			case errors.Is(err, service.ErrQueueFull):
				http.Error(w, "Render loop busy", http.StatusServiceUnavailable)
			default:
				http.Error(w, err.Error(), http.StatusBadRequest)
			}
			return
		}

		writeState(w, logger, http.StatusAccepted, manager.State())
	}
}

// StateHandler returns the render state after the last tick.
func StateHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeState(w, logger, http.StatusOK, manager.State())
	}
}

// BackgroundUploadHandler replaces the background with an uploaded image.
// The image is sent either as the "image" field of a multipart form or as
// the raw request body. Anything that is not an image is refused with 415
// and the current background is kept.
func BackgroundUploadHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		data, err := readUpload(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "Image too large", http.StatusRequestEntityTooLarge)
				return
			}
			logger.Warning("Failed to read background upload: %v", err)
			http.Error(w, "Invalid upload", http.StatusBadRequest)
			return
		}

		if !strings.HasPrefix(http.DetectContentType(data), "image/") {
			logger.Warning("Rejected background upload of type %s", http.DetectContentType(data))
			http.Error(w, "Not an image file!", http.StatusUnsupportedMediaType)
			return
		}

		if err := manager.SetBackground(data); err != nil {
			if errors.Is(err, service.ErrQueueFull) {
				http.Error(w, "Render loop busy", http.StatusServiceUnavailable)
				return
			}
			logger.Warning("Rejected background upload: %v", err)
			http.Error(w, "Not an image file!", http.StatusUnsupportedMediaType)
			return
		}

		logger.Info("🖼️  Background image uploaded (%d bytes)", len(data))
		writeState(w, logger, http.StatusAccepted, manager.State())
	}
}

// readUpload returns the uploaded bytes from a multipart form or the body.
func readUpload(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}

func writeState(w http.ResponseWriter, logger *logger.Logger, status int, state dto.State) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(state); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

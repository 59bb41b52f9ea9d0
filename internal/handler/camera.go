package handler

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"echoes/internal/config"
	"echoes/internal/logger"
	"echoes/internal/service"

	"github.com/gorilla/websocket"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// maxAssemblySources bounds how many senders get a reassembly buffer.
const maxAssemblySources = 64

// frameAssembler rebuilds JPEG frames split over several UDP packets, one
// buffer per sender.
type frameAssembler struct {
	buffers map[string]*bytes.Buffer
}

func newFrameAssembler() *frameAssembler {
	return &frameAssembler{buffers: make(map[string]*bytes.Buffer)}
}

// Add appends a packet and returns the completed frame once its footer
// arrives. A packet starting with a JPEG header discards any partial frame.
// Packets from new senders are dropped once maxAssemblySources is reached.
func (a *frameAssembler) Add(sender string, data []byte) ([]byte, bool) {
	imgBuffer, ok := a.buffers[sender]
	if !ok {
		if len(a.buffers) >= maxAssemblySources {
			return nil, false
		}
		imgBuffer = new(bytes.Buffer)
		a.buffers[sender] = imgBuffer
	}

	if bytes.HasPrefix(data, jpegHeader) {
		imgBuffer.Reset()
	}
	imgBuffer.Write(data)

	if !bytes.HasSuffix(data, jpegFooter) {
		return nil, false
	}
	if !bytes.HasPrefix(imgBuffer.Bytes(), jpegHeader) {
		// Footer without a header: we joined mid-frame.
		imgBuffer.Reset()
		return nil, false
	}

	fullFrame := make([]byte, imgBuffer.Len())
	copy(fullFrame, imgBuffer.Bytes())
	imgBuffer.Reset()
	return fullFrame, true
}

func hostIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// cameraName resolves a camera's configured name from its address.
// Unconfigured addresses share one bucket.
func cameraName(cfg *config.Config, addr string) string {
	if name, ok := cfg.CameraNames[hostIP(addr)]; ok {
		return name
	}
	return service.UnknownCamera
}

// resolveCamera accepts a client-supplied name only when it is configured
// and otherwise falls back to the address.
func resolveCamera(cfg *config.Config, requested, addr string) string {
	requested = strings.TrimSpace(requested)
	for _, name := range cfg.CameraNames {
		if name == requested {
			return name
		}
	}
	return cameraName(cfg, addr)
}

// UDPCameraHandler listens for UDP packets from cameras, reconstructs JPEG
// frames and forwards complete frames to the Manager until done is closed.
func UDPCameraHandler(manager *service.Manager, logger *logger.Logger, cfg *config.Config, done <-chan struct{}) {
	port := strconv.Itoa(cfg.CamerasPort)

	addr, err := net.ResolveUDPAddr("udp", ":"+port)
	if err != nil {
		logger.Error("Failed to resolve UDP address: %v", err)
		return
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		logger.Error("Failed to listen on UDP port %s: %v", port, err)
		return
	}
	go func() {
		<-done
		conn.Close()
	}()

	logger.Info("UDP Camera handler started on port %s", port)
	buffer := make([]byte, 65535)
	assembler := newFrameAssembler()

	for {
		n, remoteAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			select {
			case <-done:
				logger.Info("UDP Camera handler stopped")
				return
			default:
			}
			logger.Error("Error reading UDP packet: %v", err)
			continue
		}

		camera := cameraName(cfg, remoteAddr.String())
		if frame, ok := assembler.Add(remoteAddr.IP.String(), buffer[:n]); ok {
			manager.HandleCameraImage(frame, camera)
		}
	}
}

// CameraWebsocketHandler accepts cameras that push whole JPEG frames as
// binary websocket messages.
func CameraWebsocketHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		defer connection.Close()

		camera := resolveCamera(cfg, r.URL.Query().Get("name"), r.RemoteAddr)
		logger.Info("Camera %s connected from %s", camera, hostIP(r.RemoteAddr))

		for {
			messageType, data, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Camera %s disconnected normally", camera)
				} else {
					logger.Error("Error reading camera message from %s: %v", camera, err)
				}
				return
			}
			if messageType != websocket.BinaryMessage || !bytes.HasPrefix(data, jpegHeader) {
				logger.Warning("Camera %s sent a non-JPEG message - ignoring", camera)
				continue
			}
			manager.HandleCameraImage(data, camera)
		}
	}
}

// CameraUploadHandler accepts one JPEG frame per POST, for cameras that
// cannot hold a websocket open.
func CameraUploadHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		camera := resolveCamera(cfg, r.URL.Query().Get("camera"), r.RemoteAddr)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes))
		if err != nil {
			logger.Error("Error reading upload from camera %s: %v", camera, err)
			http.Error(w, "Error reading body", http.StatusBadRequest)
			return
		}
		if !bytes.HasPrefix(body, jpegHeader) {
			http.Error(w, "Not a JPEG frame", http.StatusUnsupportedMediaType)
			return
		}

		manager.HandleCameraImage(body, camera)
		w.Write([]byte("OK"))
	}
}

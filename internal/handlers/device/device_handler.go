// internal/handlers/device/device_handler.go
package device

import (
	"context"
	"net/http"

	"condo-session/internal/domain/auth"
	"condo-session/internal/network"
	"condo-session/internal/offlinequeue"
	"condo-session/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// AppStateReceiver takes foreground/background transitions.
type AppStateReceiver interface {
	HandleAppState(ctx context.Context, active bool)
}

// NetworkReporter takes raw connectivity samples.
type NetworkReporter interface {
	Update(s network.Status)
	Online() bool
}

// QueueReader lists pending offline actions.
type QueueReader interface {
	Items(ctx context.Context) ([]offlinequeue.Item, error)
}

// DeviceHandler feeds platform signals into the agent.
type DeviceHandler struct {
	app     AppStateReceiver
	network NetworkReporter
	queue   QueueReader
}

func NewDeviceHandler(app AppStateReceiver, net NetworkReporter, queue QueueReader) *DeviceHandler {
	return &DeviceHandler{
		app:     app,
		network: net,
		queue:   queue,
	}
}

// AppState reports whether the app came to the foreground
func (h *DeviceHandler) AppState(c *gin.Context) {
	var req auth.AppStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}
	h.app.HandleAppState(c.Request.Context(), *req.Active)
	response.Success(c, http.StatusOK, "app state received", gin.H{"active": *req.Active})
}

// Network reports a connectivity sample; it takes effect after debouncing.
func (h *DeviceHandler) Network(c *gin.Context) {
	var req auth.NetworkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}
	status := network.Status{IsConnected: req.IsConnected, IsInternetReachable: req.IsInternetReachable}
	h.network.Update(status)
	response.Success(c, http.StatusAccepted, "network status received", gin.H{
		"sample_online": status.Online(),
		"online":        h.network.Online(),
	})
}

// Queue lists actions waiting for connectivity
func (h *DeviceHandler) Queue(c *gin.Context) {
	items, err := h.queue.Items(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to read queue", err)
		return
	}
	if items == nil {
		items = []offlinequeue.Item{}
	}
	response.Success(c, http.StatusOK, "queue retrieved", gin.H{
		"items": items,
		"count": len(items),
	})
}

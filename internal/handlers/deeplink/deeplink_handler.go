// internal/handlers/deeplink/deeplink_handler.go
package deeplink

import (
	"context"
	"net/http"

	"condo-session/internal/offlinequeue"
	"condo-session/internal/pkg/response"
	"condo-session/internal/service/deeplink"
	"condo-session/internal/service/session"

	"github.com/gin-gonic/gin"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, rawURL string) (deeplink.Entry, error)
	History() []deeplink.Entry
	Pending() string
}

type Queue interface {
	Enqueue(ctx context.Context, t offlinequeue.ItemType, payload interface{}) (offlinequeue.Item, error)
}

type Connectivity interface {
	State() session.State
}

type DeepLinkHandler struct {
	dispatcher Dispatcher
	queue      Queue
	session    Connectivity
}

func NewDeepLinkHandler(dispatcher Dispatcher, queue Queue, sess Connectivity) *DeepLinkHandler {
	return &DeepLinkHandler{
		dispatcher: dispatcher,
		queue:      queue,
		session:    sess,
	}
}

// Open dispatches a link now, or queues it while the session is offline
func (h *DeepLinkHandler) Open(c *gin.Context) {
	var req deeplink.Link
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	if h.session.State().IsOffline() {
		item, err := h.queue.Enqueue(c.Request.Context(), offlinequeue.TypeDeepLink, req)
		if err != nil {
			response.Error(c, http.StatusInternalServerError, "failed to queue deep link", err)
			return
		}
		response.Success(c, http.StatusAccepted, "deep link queued", item)
		return
	}

	entry, err := h.dispatcher.Dispatch(c.Request.Context(), req.URL)
	if err != nil {
		response.FromError(c, "deep link failed", err)
		return
	}
	response.Success(c, http.StatusOK, "deep link "+string(entry.Status), entry)
}

// History lists recent dispatches and any link waiting for sign-in
func (h *DeepLinkHandler) History(c *gin.Context) {
	response.Success(c, http.StatusOK, "deep link history", gin.H{
		"history": h.dispatcher.History(),
		"pending": h.dispatcher.Pending(),
	})
}

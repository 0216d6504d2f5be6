// internal/websocket/handler/deeplink.go
package handlers

import (
	"context"
	"fmt"

	wstypes "condo-session/internal/domain/websocket"
	"condo-session/internal/offlinequeue"
	"condo-session/internal/service/deeplink"
	ws "condo-session/internal/websocket"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, rawURL string) (deeplink.Entry, error)
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

func (h *DeepLinkHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{wstypes.EventTypeDeepLink}
}

func (h *DeepLinkHandler) HandleMessage(ctx context.Context, sender ws.Sender, msg *wstypes.WSMessage) error {
	var data wstypes.DeepLinkData
	if err := ws.DecodeData(msg.Data, &data); err != nil || data.URL == "" {
		return fmt.Errorf("invalid deep link payload")
	}

	status := "queued"
	if h.session.State().IsOffline() {
		link := deeplink.Link{URL: data.URL, Source: data.Source}
		if _, err := h.queue.Enqueue(ctx, offlinequeue.TypeDeepLink, link); err != nil {
			return fmt.Errorf("failed to queue deep link: %w", err)
		}
	} else {
		entry, err := h.dispatcher.Dispatch(ctx, data.URL)
		if err != nil {
			return err
		}
		status = string(entry.Status)
	}

	sender.SendMessage(wstypes.NewMessage(wstypes.EventTypeAck, wstypes.AckData{
		MessageID: msg.ID,
		Status:    status,
	}))
	return nil
}

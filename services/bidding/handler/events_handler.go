package handler

import (
	"io"
	"strconv"
	"time"

	"auction-house/internal/events"
	"auction-house/services/bidding/helpers"
	"auction-house/utils"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

const DefaultHeartbeat = 15 * time.Second

// EventsHandler streams an auction's events as Server-Sent Events
type EventsHandler struct {
	service   BiddingServiceInterface
	heartbeat time.Duration
}

func NewEventsHandler(service BiddingServiceInterface, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &EventsHandler{service: service, heartbeat: heartbeat}
}

// StreamEventsHandler handles GET /auctions/:auction_id/events.
// The first frame is the auction_state snapshot; the stream ends when the
// client goes away or the hub drops the subscriber for falling behind.
func (h *EventsHandler) StreamEventsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	sub, err := h.service.Subscribe(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "StreamEventsHandler", err, map[string]any{"auction_id": auctionID})
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	utils.Debug("StreamEventsHandler: subscriber attached", map[string]any{"auction_id": auctionID})
	disconnected := c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.Render(-1, frame(ev))
			return true
		case <-heartbeat.C:
			c.Render(-1, sse.Event{Event: "heartbeat", Data: gin.H{"at": time.Now().UTC()}})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})

	utils.Debug("StreamEventsHandler: subscriber detached", map[string]any{
		"auction_id":    auctionID,
		"client_closed": disconnected,
	})
}

func frame(ev events.Event) sse.Event {
	return sse.Event{
		Id:    strconv.FormatUint(ev.Seq, 10),
		Event: string(ev.Type),
		Data:  ev,
	}
}

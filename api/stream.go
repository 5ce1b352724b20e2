package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/stgisi414/langcampus-exchange-sub000/utils"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
)

const streamWriteTimeout = 10 * time.Second

// GroupStreamHandler upgrades the request to a websocket and pushes a full
// group snapshot on every change. Each frame is the whole document (members,
// topic, messages re-sorted by timestamp) so clients apply a replace, never
// an append.
func (h *APIHandler) GroupStreamHandler(c *gin.Context) {
	groupID, ok := groupIDParam(c)
	if !ok {
		return
	}

	updates, cancel, err := h.groups.Subscribe(groupID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	defer cancel()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS is handled by the middleware layer
	})
	if err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "WebSocket upgrade failed.", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// The stream is write-only, so hand the read side to CloseRead; the
	// returned context is cancelled the moment the peer disconnects, which is
	// what unblocks the select below and releases the subscription.
	ctx := conn.CloseRead(c.Request.Context())
	log.Printf("INFO: [Stream] Subscriber attached to group %d.", groupID)

	// Initial snapshot so a new subscriber renders without waiting for the
	// next mutation.
	if snapshot, err := h.groups.Snapshot(groupID); err == nil {
		if err := writeSnapshot(ctx, conn, snapshot); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case group, open := <-updates:
			if !open {
				// Group was deleted.
				conn.Close(websocket.StatusNormalClosure, "group deleted")
				return
			}
			if err := writeSnapshot(ctx, conn, &group); err != nil {
				log.Printf("INFO: [Stream] Subscriber detached from group %d: %v", groupID, err)
				return
			}
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, snapshot interface{}) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, snapshot)
}

package chat

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ChatSync/logger"
	"ChatSync/service/bus"
	"ChatSync/service/storage"
	"ChatSync/tools/errs"
	"ChatSync/tools/ids"
	"ChatSync/tools/safe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Config struct {
	GatewayID string
	// JWTSecret, when set, requires a signed token in the authenticate frame.
	// Empty means the gateway trusts the bare userId (membership was
	// authorized upstream anyway).
	JWTSecret []byte

	SendQueueSize int
	FanoutWorkers int
	FanoutQueue   int

	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	ReadLimit    int64
}

func (c *Config) norm() {
	if c.GatewayID == "" {
		c.GatewayID = "gw-1"
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20 // 1MB
	}
}

// Server is the realtime gateway: it owns the session registry, fans bus
// events out to live sessions and relays client acks back onto the bus.
type Server struct {
	cfg      Config
	reg      *Registry
	bus      bus.Bus
	fanout   *Fanout
	disp     *Dispatcher
	presence *storage.Presence // nil when presence tracking is disabled
}

func NewServer(cfg Config, b bus.Bus, presence *storage.Presence) *Server {
	cfg.norm()
	s := &Server{
		cfg:      cfg,
		reg:      NewRegistry(),
		bus:      b,
		fanout:   NewFanout(cfg.FanoutWorkers, cfg.FanoutQueue),
		disp:     NewDispatcher(),
		presence: presence,
	}
	s.disp.Register(EvAuthenticate, s.handleAuthenticate)
	s.disp.Register(EvJoinChat, s.handleJoinChat)
	s.disp.Register(EvLeaveChat, s.handleLeaveChat)
	s.disp.Register(EvTyping, s.handleTyping)
	s.disp.Register(EvStopTyping, s.handleStopTyping)
	s.disp.Register(EvMessageDelivered, s.handleDelivered)
	s.disp.Register(EvMessageRead, s.handleRead)
	return s
}

// Registry exposes the session index (health, tests).
func (s *Server) Registry() *Registry { return s.reg }

// HandleWS upgrades the request and runs the connection's read loop until
// the peer goes away. One goroutine reads, one writes; neither blocks the
// other sessions.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[ws] upgrade failed: %v", err)
		return
	}

	client := NewClient(ids.GenerateString(), ws, s.cfg.SendQueueSize)
	s.reg.Add(client)
	safe.Go(func() { client.writePump(s.cfg.PingInterval, s.cfg.WriteWait) })
	logger.Info("session connected", zap.String("connId", client.ConnID))

	if ack, err := BuildFrame(EvConnected, map[string]string{
		"connId":    client.ConnID,
		"gatewayId": s.cfg.GatewayID,
	}); err == nil {
		client.Enqueue(ack)
	}

	ws.SetReadLimit(s.cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed connId=%s", client.ConnID)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout connId=%s", client.ConnID)
			} else {
				logger.Infof("[ws] read err connId=%s err=%v", client.ConnID, rerr)
			}
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Warnf("[ws] bad frame connId=%s err=%v sample=%q", client.ConnID, perr, sample)
			continue
		}

		if err := s.disp.Dispatch(client, frame); err != nil {
			logger.Warn("frame handling failed",
				zap.String("connId", client.ConnID),
				zap.String("event", frame.Event),
				zap.Error(err))
		}
	}

	s.dropClient(client)
}

// dropClient tears down one session: registry removal, outstanding emit
// cancellation, presence and the offline broadcast when the user's last
// session is gone.
func (s *Server) dropClient(client *Client) {
	c, userID, last := s.reg.Remove(client.ConnID)
	if c == nil {
		client.Close()
		return
	}
	c.Close()
	logger.Info("session disconnected",
		zap.String("connId", c.ConnID), zap.String("userId", userID))

	if userID == "" || !last {
		return
	}
	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.presence.Offline(ctx, userID); err != nil {
			logger.Warnf("[presence] offline failed user=%s: %v", userID, err)
		}
	}
	s.emitPresence(EvUserOffline, userID, c.ConnID)
}

func (s *Server) emitPresence(event, userID, exceptConnID string) {
	frame, err := BuildFrame(event, map[string]string{"userId": userID})
	if err != nil {
		return
	}
	s.fanout.Broadcast(s.reg.AllExcept(exceptConnID), frame)
}

// Run consumes downstream bus topics until ctx is done. Blocks; reconnect
// and resubscribe live inside the bus driver.
func (s *Server) Run(ctx context.Context) error {
	if s.presence != nil {
		safe.Go(func() { s.refreshPresence(ctx) })
	}
	topics := []string{bus.TopicNewMessage, bus.TopicStatusChanged}
	return s.bus.Subscribe(ctx, topics, s.HandleBusEvent)
}

// refreshPresence renews the online keys of every bound user faster than
// their TTL, so long-lived sessions do not flicker offline.
func (s *Server) refreshPresence(ctx context.Context) {
	ticker := time.NewTicker(s.presence.TTL() / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, userID := range s.reg.Users() {
				if err := s.presence.Online(ctx, userID, s.cfg.GatewayID); err != nil {
					logger.Warnf("[presence] refresh failed user=%s: %v", userID, err)
					break
				}
			}
		}
	}
}

// HandleBusEvent fans one bus event out to the matching sessions:
// new-message to the chat's room, status-changed to the named user only.
func (s *Server) HandleBusEvent(ctx context.Context, m bus.Message) error {
	switch m.Topic {
	case bus.TopicNewMessage:
		var ev bus.NewMessageEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil || ev.ChatID == "" {
			logger.Warnf("[gw] dropping malformed new-message: %v", err)
			return nil
		}
		frame, err := BuildFrame(EvNewMessage, ev.Message)
		if err != nil {
			return err
		}
		s.fanout.Broadcast(s.reg.RoomMembers(ev.ChatID), frame)

	case bus.TopicStatusChanged:
		var ev bus.StatusChangedEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil || ev.MessageID == "" || ev.UserID == "" {
			logger.Warnf("[gw] dropping malformed status-changed: %v", err)
			return nil
		}
		frame, err := BuildFrame(EvMessageStatusUpdate, map[string]string{
			"messageId": ev.MessageID,
			"status":    ev.Status,
		})
		if err != nil {
			return err
		}
		// only the original sender's sessions, never the whole room
		s.fanout.Broadcast(s.reg.UserSessions(ev.UserID), frame)
	}
	return nil
}

// HandleHealth is the synchronous liveness probe: session count plus
// upstream connectivity.
func (s *Server) HandleHealth(c *gin.Context) {
	resp := gin.H{
		"status":    "ok",
		"gatewayId": s.cfg.GatewayID,
		"sessions":  s.reg.Count(),
		"bus":       s.bus.Healthy(),
		"timestamp": time.Now().UTC(),
	}
	if s.presence != nil {
		resp["presence"] = s.presence.Healthy()
	}
	c.JSON(http.StatusOK, resp)
}

// requireUser returns the bound identity or errs.ErrUnauthenticated.
func requireUser(c *Client) (string, error) {
	if c.UserID == "" {
		return "", errs.ErrUnauthenticated
	}
	return c.UserID, nil
}

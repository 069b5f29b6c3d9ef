package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/genbalink/genbalink/internal/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const presenceKey = "genbalink:peers"

// ServerConfig configures the relay server.
type ServerConfig struct {
	Addr      string
	RedisAddr string // optional; presence bookkeeping only
	JWTKey    string // optional; when set, /ws requires a valid HMAC token
}

// Server is the rendezvous relay. It holds one WebSocket connection per peer
// id and forwards envelopes between the two identities of a site. It never
// inspects SDP payloads; it is a dumb, addressed relay.
type Server struct {
	cfg      ServerConfig
	registry *Registry
	rdb      *redis.Client
	srv      *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{cfg: cfg, registry: NewRegistry()}

	if cfg.RedisAddr != "" {
		s.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": s.registry.Len()})
	})
	engine.GET("/ws", s.handleWS)

	s.srv = &http.Server{Addr: cfg.Addr, Handler: engine}
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	util.LogInfo("rendezvous relay listening on %s", s.cfg.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleWS upgrades the connection, waits for the register envelope, claims
// the peer id, and then relays envelopes by their To field until the
// connection drops.
func (s *Server) handleWS(c *gin.Context) {
	if s.cfg.JWTKey != "" && !s.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogWarning("ws upgrade failed: %v", err)
		return
	}

	var reg Envelope
	_ = conn.SetReadDeadline(time.Now().Add(registerTimeout))
	if err := conn.ReadJSON(&reg); err != nil || reg.Type != TypeRegister || reg.From == "" {
		conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	peer, ok := s.registry.Register(reg.From, conn)
	if !ok {
		// Duplicate id: the newcomer is refused, the existing session keeps
		// its registration. The client surfaces this as a terminal error.
		_ = (&peerConn{conn: conn}).send(Envelope{
			Type:   TypeConflict,
			To:     reg.From,
			Reason: "identifier is held by another live session",
		})
		conn.Close()
		return
	}

	_ = peer.send(Envelope{Type: TypeRegistered, To: peer.id})
	s.presenceAdd(c.Request.Context(), peer.id)
	util.LogInfo("peer %q registered (%d online)", peer.id, s.registry.Len())

	s.relayLoop(peer)

	s.registry.Unregister(peer)
	s.presenceRemove(context.Background(), peer.id)
	conn.Close()
	util.LogInfo("peer %q disconnected (%d online)", peer.id, s.registry.Len())
}

// relayLoop forwards each inbound envelope to its To peer. The From field is
// stamped server-side so a peer cannot impersonate its counterpart.
func (s *Server) relayLoop(peer *peerConn) {
	for {
		var env Envelope
		if err := peer.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("peer %q read error: %v", peer.id, err)
			}
			return
		}

		if env.To == "" {
			continue
		}
		env.From = peer.id

		target, ok := s.registry.Lookup(env.To)
		if !ok {
			// Counterpart offline; the sender's retry cadence covers this.
			util.LogDebug("drop %s for offline peer %q", env.Type, env.To)
			continue
		}
		if err := target.send(env); err != nil {
			util.LogDebug("relay to %q failed: %v", env.To, err)
		}
	}
}

// authorized checks the bearer token (header or ?token=) against the HMAC key.
func (s *Server) authorized(c *gin.Context) bool {
	raw := c.Query("token")
	if h := c.GetHeader("Authorization"); raw == "" && strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	}
	if raw == "" {
		return false
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.JWTKey), nil
	})
	return err == nil && token.Valid
}

// presenceAdd records the peer id in redis with a TTL, when redis is
// configured. Presence is advisory; routing always uses the in-memory
// registry.
func (s *Server) presenceAdd(ctx context.Context, id string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.SAdd(ctx, presenceKey, id).Err(); err != nil {
		util.LogWarning("redis presence add failed: %v", err)
		return
	}
	_ = s.rdb.Expire(ctx, presenceKey, 24*time.Hour).Err()
}

func (s *Server) presenceRemove(ctx context.Context, id string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.SRem(ctx, presenceKey, id).Err(); err != nil {
		util.LogWarning("redis presence remove failed: %v", err)
	}
}

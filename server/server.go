// server/server.go
package server

import (
	"net/http"
	"net/rpc"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wfunc/chatserver/broadcast"
	"github.com/wfunc/chatserver/config"
	"github.com/wfunc/chatserver/logger"
	"github.com/wfunc/chatserver/monitor"
	"github.com/wfunc/chatserver/network"
	"github.com/wfunc/chatserver/persistence"
	"github.com/wfunc/chatserver/room"
	chatrpc "github.com/wfunc/chatserver/rpc"
	"github.com/wfunc/chatserver/services"
	"github.com/wfunc/chatserver/session"
	"github.com/wfunc/chatserver/timer"
)

type ChatServer struct {
	cfg            *config.Config
	upgrader       websocket.Upgrader
	roomManager    *room.Manager
	sessionManager *session.Manager
	balanceService *services.BalanceService
	chestService   *services.ChestService
	roomService    *services.RoomService
	broadcaster    broadcast.Broadcaster
	rpcServer      *chatrpc.Server
	monitor        *monitor.Monitor
	timers         *timer.Manager
	shutdownChan   chan struct{}
}

func NewChatServer(cfg *config.Config, store persistence.Store) *ChatServer {
	s := &ChatServer{
		cfg:            cfg,
		roomManager:    room.NewRoomManager(),
		sessionManager: session.NewManager(),
		balanceService: services.NewBalanceService(store),
		chestService:   services.NewChestService(store, cfg.Chest.FeePerWinner, cfg.Chest.ClaimRetries),
		roomService:    services.NewRoomService(store, cfg.Room.CascadeBatchSize),
		monitor:        monitor.NewMonitor("chatserver"),
		timers:         timer.NewManager(),
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}

	// 初始化广播器
	s.broadcaster = broadcast.NewRoomBroadcaster(s.roomManager, s.sessionManager)

	// 初始化RPC服务器
	rpcServer, err := chatrpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	s.rpcServer = rpcServer

	// 注册RPC服务
	adminService := chatrpc.NewAdminService(s.balanceService, s.roomService)
	rpc.Register(adminService)

	return s
}

func (s *ChatServer) Start() error {
	go s.rpcServer.Start()

	if s.cfg.Server.MetricsAddress != "" {
		s.monitor.StartServer(s.cfg.Server.MetricsAddress)
	}

	// 周期扫描到期房间
	sweep := s.cfg.Room.SweepInterval()
	s.timers.Schedule(sweep, sweep, func() {
		s.roomService.ExpireDue(time.Now())
	})

	http.HandleFunc("/ws", s.handleWebSocket)
	logger.Log.Infof("Chat server listening on %s", s.cfg.Server.HTTPAddress)
	return http.ListenAndServe(s.cfg.Server.HTTPAddress, nil)
}

func (s *ChatServer) Shutdown() {
	close(s.shutdownChan)
	s.timers.Stop()
	s.rpcServer.Stop()
}

func (s *ChatServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *ChatServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)
	s.monitor.IncOnlineUsers()

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.detachFromRoom(sess)
		s.sessionManager.Remove(sess.GetID())
		s.monitor.DecOnlineUsers()
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}

// detachFromRoom 断线/离开时同步清理运行时成员与持久化成员记录
func (s *ChatServer) detachFromRoom(sess *session.Session) {
	if sess.RoomID == "" {
		return
	}
	roomID := sess.RoomID
	if r, exists := s.roomManager.GetRoom(roomID); exists {
		r.RemoveMember(sess.GetID())
	}
	if sess.Authenticated() {
		if err := s.roomService.Leave(roomID, sess.UserID); err != nil {
			logger.Log.Warnf("Failed to persist leave for user %d in room %s: %v", sess.UserID, roomID, err)
		}
	}
	sess.RoomID = ""
}

func (s *ChatServer) handlePacket(sess *session.Session, packet *network.Packet) {
	if packet.MsgID != network.MsgTypeHeartbeat && packet.MsgID != network.MsgTypeHello && !sess.Authenticated() {
		s.sendError(sess, "unauthenticated", "send hello first")
		return
	}

	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		sess.LastActive = time.Now()
	case network.MsgTypeHello:
		s.handleHello(sess, packet)
	case network.MsgTypeCreateRoom:
		s.handleCreateRoom(sess, packet)
	case network.MsgTypeJoinRoom:
		s.handleJoinRoom(sess, packet)
	case network.MsgTypeLeaveRoom:
		s.handleLeaveRoom(sess)
	case network.MsgTypeDeleteRoom:
		s.handleDeleteRoom(sess, packet)
	case network.MsgTypeVoicePresence:
		s.handleVoicePresence(sess, packet)
	case network.MsgTypeChatMessage:
		s.handleChatMessage(sess, packet)
	case network.MsgTypeCreateChest:
		s.handleCreateChest(sess, packet)
	case network.MsgTypeClaimChest:
		s.handleClaimChest(sess, packet)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
}

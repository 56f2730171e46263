// server/handlers.go
package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/wfunc/chatserver/logger"
	"github.com/wfunc/chatserver/models"
	"github.com/wfunc/chatserver/network"
	"github.com/wfunc/chatserver/services"
	"github.com/wfunc/chatserver/session"
)

// sendServiceError 把服务层错误映射为对客户端可见的错误码
func (s *ChatServer) sendServiceError(sess *session.Session, err error) {
	code := "internal"
	switch {
	case errors.Is(err, services.ErrInvalidParameters):
		code = "invalid_parameters"
	case errors.Is(err, services.ErrInsufficientFunds):
		code = "insufficient_funds"
	case errors.Is(err, services.ErrRoomNotFound):
		code = "room_not_found"
	case errors.Is(err, services.ErrRoomExpired):
		code = "room_expired"
	case errors.Is(err, services.ErrGameDisabled):
		code = "game_disabled"
	case errors.Is(err, services.ErrChestActive):
		code = "chest_already_active"
	case errors.Is(err, services.ErrChestNotFound):
		code = "chest_not_found"
	case errors.Is(err, services.ErrChestExpired):
		code = "chest_expired"
	case errors.Is(err, services.ErrChestExhausted):
		code = "chest_exhausted"
	case errors.Is(err, services.ErrAlreadyClaimed):
		code = "already_claimed"
	case errors.Is(err, services.ErrChestUnavailable):
		code = "chest_unavailable"
	default:
		logger.Log.Errorf("Unexpected service error: %v", err)
	}
	s.sendError(sess, code, err.Error())
}

// --- 报文载荷 ---

type helloRequest struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

type createRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MaxMembers  int    `json:"max_members"`
	TTLMinutes  int    `json:"ttl_minutes"`
}

type roomResponse struct {
	RoomID    string    `json:"room_id"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at"`
}

type joinRoomRequest struct {
	RoomID string `json:"room_id"`
}

type deleteRoomRequest struct {
	RoomID string `json:"room_id"`
}

type voicePresenceRequest struct {
	Present bool `json:"present"`
}

type chatRequest struct {
	Body string `json:"body"`
}

type chatBroadcast struct {
	RoomID     string    `json:"room_id"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Kind       string    `json:"kind"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type createChestRequest struct {
	TotalDiamonds int64 `json:"total_diamonds"`
	MaxWinners    int   `json:"max_winners"`
}

type claimChestRequest struct {
	ChestID string `json:"chest_id"`
}

type claimChestResponse struct {
	ChestID string `json:"chest_id"`
	Awarded int64  `json:"awarded"`
}

// chestState 推给客户端做展示与倒计时的宝箱快照
type chestState struct {
	ChestID           string    `json:"chest_id"`
	RoomID            string    `json:"room_id"`
	CreatorName       string    `json:"creator_name"`
	TotalDiamonds     int64     `json:"total_diamonds"`
	RemainingDiamonds int64     `json:"remaining_diamonds"`
	MaxWinners        int       `json:"max_winners"`
	WinnerCount       int       `json:"winner_count"`
	Status            string    `json:"status"`
	ExpiresAt         time.Time `json:"expires_at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- 处理函数 ---

func (s *ChatServer) handleHello(sess *session.Session, packet *network.Packet) {
	var req helloRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil || req.UserID == 0 {
		s.sendError(sess, "invalid_parameters", "malformed hello")
		return
	}

	if err := s.balanceService.EnsureUser(req.UserID, req.Name); err != nil {
		logger.Log.Errorf("Failed to upsert user %d: %v", req.UserID, err)
		s.sendError(sess, "internal", "registration failed")
		return
	}

	sess.UserID = req.UserID
	sess.UserName = req.Name
	sess.SendJSON(network.MsgTypeHello, map[string]string{"session_id": sess.GetID()})
}

func (s *ChatServer) handleCreateRoom(sess *session.Session, packet *network.Packet) {
	var req createRoomRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, "invalid_parameters", "malformed create room request")
		return
	}

	ttl := s.cfg.Room.DefaultTTL()
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}

	created, err := s.roomService.Create(sess.UserID, req.Name, req.Description, ttl)
	if err != nil {
		s.sendServiceError(sess, err)
		return
	}

	r := s.roomManager.CreateRoom(created.RoomID, sess.UserID, created.Name, req.MaxMembers, created.ExpiresAt, s.broadcaster, s.teardownRoom)
	s.monitor.SetActiveRooms(s.roomManager.Count())

	if !r.AddMember(sess) {
		s.sendError(sess, "room_full", "room is full")
		return
	}
	if err := s.roomService.Join(created.RoomID, sess.UserID, sess.UserName); err != nil {
		logger.Log.Warnf("Failed to persist join for creator %d: %v", sess.UserID, err)
	}

	logger.Log.Infof("Session %s created room %s", sess.GetID(), created.RoomID)
	sess.SendJSON(network.MsgTypeCreateRoom, roomResponse{
		RoomID:    created.RoomID,
		Name:      created.Name,
		ExpiresAt: created.ExpiresAt,
	})
}

func (s *ChatServer) handleJoinRoom(sess *session.Session, packet *network.Packet) {
	var req joinRoomRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil || req.RoomID == "" {
		s.sendError(sess, "invalid_parameters", "malformed join request")
		return
	}

	stored, err := s.roomService.Get(req.RoomID)
	if err != nil {
		s.sendServiceError(sess, err)
		return
	}

	r, exists := s.roomManager.GetRoom(req.RoomID)
	if !exists {
		// 服务重启后运行时丢失，按存储内容重建
		r = s.roomManager.CreateRoom(stored.RoomID, stored.CreatorID, stored.Name, 0, stored.ExpiresAt, s.broadcaster, s.teardownRoom)
		s.monitor.SetActiveRooms(s.roomManager.Count())
	}

	if !r.AddMember(sess) {
		s.sendError(sess, "room_unavailable", "room is closing or full")
		return
	}
	if err := s.roomService.Join(req.RoomID, sess.UserID, sess.UserName); err != nil {
		r.RemoveMember(sess.GetID())
		s.sendServiceError(sess, err)
		return
	}

	logger.Log.Infof("Session %s joined room %s", sess.GetID(), req.RoomID)
	sess.SendJSON(network.MsgTypeJoinRoom, roomResponse{
		RoomID:    stored.RoomID,
		Name:      stored.Name,
		ExpiresAt: stored.ExpiresAt,
	})

	// 补发最近消息
	if msgs, err := s.roomService.RecentMessages(req.RoomID, 50); err == nil {
		for _, m := range msgs {
			sess.SendJSON(network.MsgTypeChatMessage, chatBroadcast{
				RoomID:     m.RoomID,
				SenderID:   m.SenderID,
				SenderName: m.SenderName,
				Kind:       m.Kind,
				Body:       m.Body,
				CreatedAt:  m.CreatedAt,
			})
		}
	}
}

func (s *ChatServer) handleLeaveRoom(sess *session.Session) {
	s.detachFromRoom(sess)
}

func (s *ChatServer) handleDeleteRoom(sess *session.Session, packet *network.Packet) {
	var req deleteRoomRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil || req.RoomID == "" {
		s.sendError(sess, "invalid_parameters", "malformed delete request")
		return
	}

	stored, err := s.roomService.Get(req.RoomID)
	if err != nil {
		s.sendServiceError(sess, err)
		return
	}
	if stored.CreatorID != sess.UserID {
		s.sendError(sess, "forbidden", "only the creator can delete the room")
		return
	}

	if r, exists := s.roomManager.GetRoom(req.RoomID); exists {
		// 运行时走关闭状态机，回调里做级联删除
		r.BeginClose()
	} else {
		s.teardownRoom(req.RoomID)
	}
}

// teardownRoom 房间关闭回调：级联删除、通知成员、回收运行时
func (s *ChatServer) teardownRoom(roomID string) {
	data, _ := json.Marshal(map[string]string{"room_id": roomID})
	s.broadcaster.BroadcastToRoom(roomID, network.MsgTypeRoomClosed, data)

	if err := s.roomService.Delete(roomID); err != nil {
		logger.Log.Errorf("Teardown of room %s incomplete: %v", roomID, err)
	} else {
		s.monitor.IncRoomsCascaded()
	}

	s.roomManager.RemoveRoom(roomID)
	s.monitor.SetActiveRooms(s.roomManager.Count())
}

func (s *ChatServer) handleVoicePresence(sess *session.Session, packet *network.Packet) {
	if sess.RoomID == "" {
		s.sendError(sess, "not_in_room", "join a room first")
		return
	}
	var req voicePresenceRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, "invalid_parameters", "malformed voice presence request")
		return
	}
	if err := s.roomService.SetVoice(sess.RoomID, sess.UserID, req.Present); err != nil {
		s.sendServiceError(sess, err)
	}
}

func (s *ChatServer) handleChatMessage(sess *session.Session, packet *network.Packet) {
	if sess.RoomID == "" {
		s.sendError(sess, "not_in_room", "join a room first")
		return
	}
	r, exists := s.roomManager.GetRoom(sess.RoomID)
	if !exists || !r.IsOpen() {
		s.sendError(sess, "room_unavailable", "room is closing")
		return
	}

	var req chatRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, "invalid_parameters", "malformed chat message")
		return
	}

	msg, err := s.roomService.AppendChat(sess.RoomID, sess.UserID, sess.UserName, req.Body)
	if err != nil {
		s.sendServiceError(sess, err)
		return
	}

	data, _ := json.Marshal(chatBroadcast{
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Kind:       msg.Kind,
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt,
	})
	s.broadcaster.BroadcastToRoom(sess.RoomID, network.MsgTypeChatMessage, data)
}

func (s *ChatServer) handleCreateChest(sess *session.Session, packet *network.Packet) {
	if sess.RoomID == "" {
		s.sendError(sess, "not_in_room", "join a room first")
		return
	}
	r, exists := s.roomManager.GetRoom(sess.RoomID)
	if !exists || !r.IsOpen() {
		s.sendError(sess, "room_unavailable", "room is closing")
		return
	}

	var req createChestRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, "invalid_parameters", "malformed chest request")
		return
	}

	chest, err := s.chestService.Create(sess.RoomID, sess.UserID, sess.UserName, req.TotalDiamonds, req.MaxWinners)
	if err != nil {
		s.sendServiceError(sess, err)
		return
	}
	s.monitor.IncChestsCreated()

	// 公告 + 宝箱快照推给全房间
	announcement, _ := json.Marshal(chatBroadcast{
		RoomID:     chest.RoomID,
		SenderID:   chest.CreatorID,
		SenderName: chest.CreatorName,
		Kind:       models.MessageKindSystem,
		Body:       "A treasure chest has appeared!",
		CreatedAt:  chest.CreatedAt,
	})
	s.broadcaster.BroadcastToRoom(chest.RoomID, network.MsgTypeSystemMessage, announcement)
	s.pushChestState(chest)
}

func (s *ChatServer) handleClaimChest(sess *session.Session, packet *network.Packet) {
	var req claimChestRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil || req.ChestID == "" {
		s.sendError(sess, "invalid_parameters", "malformed claim request")
		return
	}

	// 房间已经进入关闭流程时直接判不可用，不再触达存储
	if sess.RoomID != "" {
		if r, exists := s.roomManager.GetRoom(sess.RoomID); exists && !r.IsOpen() {
			s.sendError(sess, "chest_unavailable", "room is closing")
			return
		}
	}

	start := time.Now()
	awarded, err := s.chestService.Claim(req.ChestID, sess.UserID)
	s.monitor.ObserveClaimLatency(time.Since(start))

	if err != nil {
		if errors.Is(err, services.ErrChestUnavailable) {
			s.monitor.IncClaimConflicts()
		}
		s.sendServiceError(sess, err)
		return
	}
	s.monitor.IncChestClaims()

	sess.SendJSON(network.MsgTypeClaimChest, claimChestResponse{
		ChestID: req.ChestID,
		Awarded: awarded,
	})

	if chest, status, err := s.chestService.Describe(req.ChestID); err == nil {
		s.broadcastChestState(chest, string(status))
	}
}

// pushChestState 推送活跃宝箱快照
func (s *ChatServer) pushChestState(chest *models.Chest) {
	s.broadcastChestState(chest, string(models.ChestActive))
}

func (s *ChatServer) broadcastChestState(chest *models.Chest, status string) {
	data, _ := json.Marshal(chestState{
		ChestID:           chest.ChestID,
		RoomID:            chest.RoomID,
		CreatorName:       chest.CreatorName,
		TotalDiamonds:     chest.TotalDiamonds,
		RemainingDiamonds: chest.RemainingDiamonds,
		MaxWinners:        chest.MaxWinners,
		WinnerCount:       len(chest.Winners),
		Status:            status,
		ExpiresAt:         chest.ExpiresAt,
	})
	s.broadcaster.BroadcastToRoom(chest.RoomID, network.MsgTypeChestState, data)
}

func (s *ChatServer) sendError(sess *session.Session, code, message string) {
	sess.SendJSON(network.MsgTypeError, errorResponse{Code: code, Message: message})
}

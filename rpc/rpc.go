package rpc

import (
	"net"
	"net/rpc"

	"github.com/wfunc/chatserver/logger"
	"github.com/wfunc/chatserver/services"
)

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
}

// NewServer creates a new RPC server.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  addr,
	}, nil
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if the error is due to the listener being closed.
			if _, ok := err.(*net.OpError); ok {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// AdminService exposes operator tooling over net/rpc.
type AdminService struct {
	balance *services.BalanceService
	rooms   *services.RoomService
}

// NewAdminService creates a new AdminService.
func NewAdminService(balance *services.BalanceService, rooms *services.RoomService) *AdminService {
	return &AdminService{balance: balance, rooms: rooms}
}

// All methods follow the net/rpc signature: exported method, exported
// arguments, second argument is a pointer, return type is error.

type GrantDiamondsArgs struct {
	UserID int64
	Amount int64
}

type BalanceReply struct {
	Balance int64
}

// GrantDiamonds credits a user's balance and returns the new total.
func (a *AdminService) GrantDiamonds(args *GrantDiamondsArgs, reply *BalanceReply) error {
	if err := a.balance.Credit(args.UserID, args.Amount); err != nil {
		return err
	}
	balance, err := a.balance.Balance(args.UserID)
	if err != nil {
		return err
	}
	reply.Balance = balance
	return nil
}

type GetBalanceArgs struct {
	UserID int64
}

// GetBalance reads a user's diamond balance.
func (a *AdminService) GetBalance(args *GetBalanceArgs, reply *BalanceReply) error {
	balance, err := a.balance.Balance(args.UserID)
	if err != nil {
		return err
	}
	reply.Balance = balance
	return nil
}

type DeleteRoomArgs struct {
	RoomID string
}

type DeleteRoomReply struct {
	Deleted bool
}

// DeleteRoom force-removes a room and everything under it.
func (a *AdminService) DeleteRoom(args *DeleteRoomArgs, reply *DeleteRoomReply) error {
	if err := a.rooms.Delete(args.RoomID); err != nil {
		return err
	}
	reply.Deleted = true
	return nil
}

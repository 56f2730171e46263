package network

const (
	MsgTypeHeartbeat     = 1
	MsgTypeHello         = 100
	MsgTypeJoinRoom      = 101
	MsgTypeLeaveRoom     = 102
	MsgTypeCreateRoom    = 103
	MsgTypeDeleteRoom    = 104
	MsgTypeVoicePresence = 105
	MsgTypeChatMessage   = 201
	MsgTypeCreateChest   = 210
	MsgTypeClaimChest    = 211
	MsgTypeChestState    = 310
	MsgTypeSystemMessage = 311
	MsgTypeRoomClosed    = 312
	MsgTypeError         = 400
)

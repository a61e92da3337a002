package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrInvalidPassword     = errors.New("invalid password")
	ErrRoomFull            = errors.New("room full")
	ErrRoomExists          = errors.New("room already exists")
	ErrChannelNotConnected = errors.New("signaling channel not connected")
	ErrSessionClosed       = errors.New("session closed")
	ErrNoRemoteDescription = errors.New("remote description not set")
	ErrAlreadyFlushed      = errors.New("candidate buffer already flushed")
	ErrInvalidCreatorToken = errors.New("invalid creator token")
)

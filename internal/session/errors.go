package session

import "errors"

var ErrStoreWriteFailed = errors.New("store write failed")
var ErrRosterJoinFailed = errors.New("roster join failed")
var ErrEmptyName = errors.New("player name is empty")
var ErrNoSession = errors.New("no session")
var ErrSessionExists = errors.New("session already exists")
var ErrIdentityAdopted = errors.New("session id already set")

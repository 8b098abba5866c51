package hive

import "errors"

var (
	ErrInvalidCfg    = errors.New("hive: invalid options")
	ErrPeerIDInvalid = errors.New("hive: peer ids must only contain alphanum, dashes, dots, underscores and be less than 128 chars")

	ErrPoolClosed  = errors.New("pool: closed")
	ErrSpawnFailed = errors.New("pool: could not launch worker process")

	ErrResponseTimeout = errors.New("call: no response before the deadline")
	ErrCallClosed      = errors.New("call: closed before a response arrived")

	ErrConnectorClosed = errors.New("connector: closed")
)

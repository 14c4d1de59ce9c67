package config

import "errors"

var ErrBadPort = errors.New("config: port out of range")
var ErrBadShardCount = errors.New("config: shard count must be positive")
var ErrBadMaxMemory = errors.New("config: max memory must not be negative")
var ErrBadLogLevel = errors.New("config: unknown log level")
var ErrBadFrameSize = errors.New("config: max frame bytes must be positive")

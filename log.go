package privacy

import (
	"github.com/go-i2p/logger"
)

// Package-level logger. Verbosity is controlled through the DEBUG_I2P
// environment variable understood by go-i2p/logger (debug, warn, error).
var log = logger.GetGoI2PLogger()

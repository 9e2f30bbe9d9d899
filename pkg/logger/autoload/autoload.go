// Package autoload configures the global logger from LOG_* variables when
// imported for its side effect.
package autoload

import (
	configx "github.com/tanpawarit/voice-order-agent/pkg/config"
	logx "github.com/tanpawarit/voice-order-agent/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}

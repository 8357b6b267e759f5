package wlrelay

import (
	"github.com/sirupsen/logrus"

	"github.com/wlrelay/wlrelay/config"
	"github.com/wlrelay/wlrelay/relay"
)

// New creates a Relay configured by cfg. log may be nil, in which
// case both pipelines log through logrus's standard logger.
func New(cfg config.Config, log *logrus.Entry) *relay.Relay {
	return relay.New(cfg, log)
}

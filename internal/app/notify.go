package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"netwarmer/pkg/logx"
)

// sdNotifier reports service state to systemd. Outside systemd every call is
// a no-op.
type sdNotifier struct {
	log  logx.Logger
	send func(state string) (bool, error)
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	return &sdNotifier{
		log:  log,
		send: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func (n *sdNotifier) notify(state string) {
	sent, err := n.send(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()          { n.notify(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping()       { n.notify(daemon.SdNotifyStopping) }
func (n *sdNotifier) Status(s string) { n.notify("STATUS=" + s) }

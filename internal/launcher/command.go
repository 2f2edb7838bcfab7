package launcher

// CommandKind names a user-facing request.
type CommandKind string

const (
	CommandRetry CommandKind = "retry"
	CommandClose CommandKind = "close"
)

// Command is a request from the loading screen, the control API or a signal
// handler. Reply, when non-nil, receives exactly one result.
type Command struct {
	Kind  CommandKind
	Reply chan<- error
}

func (c Command) respond(err error) {
	if c.Reply == nil {
		return
	}
	select {
	case c.Reply <- err:
	default:
	}
}

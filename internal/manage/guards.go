package manage

// RequestContext carries the identity facts guards evaluate. It is built by
// the transport layer (HTTP handlers, bot commands) before a management
// operation runs.
type RequestContext struct {
	ServerID      int64
	ChannelID     int64
	ActorID       int64
	Administrator bool
}

// DenialCode identifies why a guard rejected a request.
type DenialCode string

const (
	DenialNoServer  DenialCode = "no_server"
	DenialNoChannel DenialCode = "no_channel"
	DenialNotAdmin  DenialCode = "not_admin"
)

// Denial is a typed rejection. A nil *Denial means the guard passed.
type Denial struct {
	Code    DenialCode
	Message string
}

// Guard is a pure predicate over a request context.
type Guard func(rc RequestContext) *Denial

// Chain composes guards left to right; the first denial wins.
func Chain(guards ...Guard) Guard {
	return func(rc RequestContext) *Denial {
		for _, g := range guards {
			if d := g(rc); d != nil {
				return d
			}
		}
		return nil
	}
}

// RequireServer denies requests without a server identity.
func RequireServer() Guard {
	return func(rc RequestContext) *Denial {
		if rc.ServerID == 0 {
			return &Denial{Code: DenialNoServer, Message: "a server is required for this operation"}
		}
		return nil
	}
}

// RequireChannel denies requests without a destination channel.
func RequireChannel() Guard {
	return func(rc RequestContext) *Denial {
		if rc.ChannelID == 0 {
			return &Denial{Code: DenialNoChannel, Message: "a destination channel is required"}
		}
		return nil
	}
}

// RequireAdministrator denies requests from non-administrators.
func RequireAdministrator() Guard {
	return func(rc RequestContext) *Denial {
		if !rc.Administrator {
			return &Denial{Code: DenialNotAdmin, Message: "administrator rights are required"}
		}
		return nil
	}
}

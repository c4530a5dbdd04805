package proxy

import "errors"

var (
	ErrNotOwned     = errors.New("message is not owned by this system")
	ErrNotProxied   = errors.New("message was not proxied")
	ErrTransport    = errors.New("chat transport call failed")
	ErrInconsistent = errors.New("message sent but not logged")
)

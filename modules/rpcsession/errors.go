package rpcsession

import "errors"

var (
	// ErrConnectTransient signals a connect failure the caller should
	// retry (connect_with_retry backs off and tries again).
	ErrConnectTransient = errors.New("rpcsession: transient connect failure")
	// ErrConnectFatal signals a connect failure that must not be
	// retried.
	ErrConnectFatal = errors.New("rpcsession: fatal connect failure")
	// ErrRpcTransient is returned by request sites for errors the
	// session layer itself may retry.
	ErrRpcTransient = errors.New("rpcsession: transient rpc failure")
	// ErrRpcFatal propagates to the orchestrator, which invokes
	// fallback.
	ErrRpcFatal = errors.New("rpcsession: fatal rpc failure")
	// ErrProtocolViolation signals an unexpected body shape at a
	// request site.
	ErrProtocolViolation = errors.New("rpcsession: protocol violation")
	// ErrWebsocketClosed signals the underlying websocket closed while
	// a request or the boot-status wait was in flight.
	ErrWebsocketClosed = errors.New("rpcsession: websocket closed")
	// ErrSessionDestroyed is returned by any operation attempted after
	// Destroy has torn the session down.
	ErrSessionDestroyed = errors.New("rpcsession: session destroyed")
)

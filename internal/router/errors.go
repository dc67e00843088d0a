package router

import "errors"

// Routing outcomes. None of them is sent to the client as-is; the router
// answers policy rejections itself and authority violations are dropped.
var (
	ErrNotMaster = errors.New("message type is reserved for the master")
	ErrNotMobile = errors.New("message type is reserved for mobile controllers")
	ErrRejected  = errors.New("prompt rejected")
)

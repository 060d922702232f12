package spibus

import "picoperiph/errcode"

var (
	errAlreadyInitialized = &errcode.E{C: errcode.AlreadyInitialized, Op: "spibus"}
	errNotInitialized     = &errcode.E{C: errcode.NotInitialized, Op: "spibus"}
)

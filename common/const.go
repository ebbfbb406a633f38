package common

const (
	AppName     = "rustctl"
	DefaultHost = "localhost"
)

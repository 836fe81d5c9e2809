package state

import "time"

const (
	// MaxLinks is the number of neighbor slots a router owns.
	MaxLinks = 4
	// SelfPort marks the self-referencing link descriptor of a router's own LSA.
	SelfPort = -1
)

var (
	HelloTimeout       = time.Second * 10
	AttachTimeout      = time.Second * 30
	DecisionTimeout    = time.Second * 20
	AcceptPollInterval = time.Millisecond * 500
	WriteTimeout       = time.Second * 10

	// default transport port
	DefaultPort = 50555
)

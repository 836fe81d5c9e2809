package state

import (
	"net/netip"
	"time"
)

// LocalCfg represents the configuration of a single router process
type LocalCfg struct {
	Id              netip.Addr    `yaml:"id"`                          // simulated address, unique in the network
	ProcessIP       netip.Addr    `yaml:"process_ip"`                  // address the router listens on for links
	ProcessPort     uint16        `yaml:"process_port"`                // port the router listens on for links, 0 picks a free port
	LogPath         string        `yaml:"log_path,omitempty"`          // if not empty, logs are also written to this file
	AutoAccept      bool          `yaml:"auto_accept,omitempty"`       // accept every attach request without asking the operator
	HelloTimeout    time.Duration `yaml:"hello_timeout,omitempty"`     // how long start waits for a link to reach TWO_WAY
	AttachTimeout   time.Duration `yaml:"attach_timeout,omitempty"`    // how long attach waits for the remote decision
	DecisionTimeout time.Duration `yaml:"decision_timeout,omitempty"`  // how long an incoming request waits for the operator
}

func (c LocalCfg) Identity() Identity {
	return Identity{
		Addr:        c.Id,
		ProcessAddr: netip.AddrPortFrom(c.ProcessIP, c.ProcessPort),
	}
}

func (c LocalCfg) GetHelloTimeout() time.Duration {
	if c.HelloTimeout <= 0 {
		return HelloTimeout
	}
	return c.HelloTimeout
}

func (c LocalCfg) GetAttachTimeout() time.Duration {
	if c.AttachTimeout <= 0 {
		return AttachTimeout
	}
	return c.AttachTimeout
}

func (c LocalCfg) GetDecisionTimeout() time.Duration {
	if c.DecisionTimeout <= 0 {
		return DecisionTimeout
	}
	return c.DecisionTimeout
}

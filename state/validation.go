package state

import (
	"fmt"
	"net/netip"
	"os"
	"path"
	"path/filepath"
	"strconv"
)

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func AddrValidator(s string) error {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return err
	}
	if addr.IsUnspecified() {
		return fmt.Errorf("%s is unspecified", s)
	}
	return nil
}

func PortValidator(s string) error {
	_, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return fmt.Errorf("%s is not a valid port: %w", s, err)
	}
	return nil
}

func NodeConfigValidator(node *LocalCfg) error {
	if !node.Id.IsValid() {
		return fmt.Errorf("%w: id is missing or invalid", ErrConfig)
	}
	if node.Id.IsUnspecified() {
		return fmt.Errorf("%w: id %s is unspecified", ErrConfig, node.Id)
	}
	if !node.ProcessIP.IsValid() {
		return fmt.Errorf("%w: process_ip is missing or invalid", ErrConfig)
	}
	if node.HelloTimeout < 0 || node.AttachTimeout < 0 || node.DecisionTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrConfig)
	}
	return nil
}

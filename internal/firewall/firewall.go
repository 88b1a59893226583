// Package firewall manages the iptables LOG rule that mirrors new
// inbound connections into the kernel log, where the watchdog picks
// them up. This module is a sensor, not an enforcer: enforcement is
// compiled out and block requests only ever log what would happen.
package firewall

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
)

// enforcementEnabled gates the DROP path in LogBlock. It is a constant
// on purpose: flipping it is a code change, not a config change.
const enforcementEnabled = false

// Controller installs and removes the connection-logging sensor rule.
type Controller struct {
	tag          string
	log          *log.Logger
	sensorActive bool
}

// NewController returns a controller stamping rules with the given log
// prefix tag (e.g. "[Agent]").
func NewController(tag string) *Controller {
	return &Controller{
		tag: tag,
		log: log.New(os.Stdout, "[firewall] ", log.LstdFlags),
	}
}

// sensorRule is the LOG rule matched and installed on the INPUT chain:
// every NEW conntrack state not arriving on loopback is logged with the
// tag prefix at kernel level 4.
func (c *Controller) sensorRule() []string {
	return []string{
		"!", "-i", "lo",
		"-m", "conntrack", "--ctstate", "NEW",
		"-j", "LOG", "--log-prefix", c.tag + " ", "--log-level", "4",
	}
}

// iptablesArgv builds the full argv for an iptables invocation,
// prefixing sudo when not running as root.
func iptablesArgv(root bool, args ...string) []string {
	argv := append([]string{"iptables"}, args...)
	if !root {
		argv = append([]string{"sudo"}, argv...)
	}
	return argv
}

func (c *Controller) run(ctx context.Context, args ...string) error {
	argv := iptablesArgv(os.Geteuid() == 0, args...)
	return exec.CommandContext(ctx, argv[0], argv[1:]...).Run()
}

// EnableSensor installs the LOG rule at the top of INPUT unless it is
// already present. Failure is returned, not fatal: the daemon keeps
// running on log files alone when iptables is unavailable.
func (c *Controller) EnableSensor(ctx context.Context) error {
	c.log.Println("setting up network sensor")

	check := append([]string{"-C", "INPUT"}, c.sensorRule()...)
	if err := c.run(ctx, check...); err == nil {
		c.log.Println("sensor already active")
		return nil
	}

	install := append([]string{"-I", "INPUT", "1"}, c.sensorRule()...)
	if err := c.run(ctx, install...); err != nil {
		return fmt.Errorf("install sensor rule: %w", err)
	}
	c.sensorActive = true
	c.log.Println("sensor installed: capturing NEW connections")
	return nil
}

// DisableSensor removes the LOG rule, but only if this controller
// installed it. A rule that predates us is left alone.
func (c *Controller) DisableSensor(ctx context.Context) {
	if !c.sensorActive {
		return
	}
	c.log.Println("removing network sensor")

	remove := append([]string{"-D", "INPUT"}, c.sensorRule()...)
	if err := c.run(ctx, remove...); err != nil {
		c.log.Printf("sensor removal failed: %v", err)
		return
	}
	c.sensorActive = false
	c.log.Println("sensor removed")
}

// LogBlock records that ip would have been blocked. With enforcement
// compiled out this never touches iptables.
func (c *Controller) LogBlock(ctx context.Context, ip, reason string) {
	c.log.Printf("[WOULD BLOCK] %s - %s", ip, reason)
	if !enforcementEnabled {
		return
	}
	if err := c.run(ctx, "-A", "INPUT", "-s", ip, "-j", "DROP"); err != nil {
		c.log.Printf("block failed: %v", err)
		return
	}
	c.log.Printf("[BLOCKED] %s", ip)
}

// SensorActive reports whether this controller owns an installed rule.
func (c *Controller) SensorActive() bool {
	return c.sensorActive
}

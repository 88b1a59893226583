// Package watchdog tails the monitored log files and reduces raw lines
// to normalized security events through a noise gate, a trust filter and
// a regex parser.
package watchdog

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	reSrc         = regexp.MustCompile(`SRC=([\d.]+)`)
	reDpt         = regexp.MustCompile(`DPT=(\d+)`)
	reProto       = regexp.MustCompile(`PROTO=(\w+)`)
	reFromIP      = regexp.MustCompile(`from ([\d.]+)`)
	reForUser     = regexp.MustCompile(`for (\w+)`)
	reInvalidUser = regexp.MustCompile(`Invalid user (\w+)`)
	reClosedIP    = regexp.MustCompile(`([\d.]+) port`)
	reClosedUser  = regexp.MustCompile(`user ([\w-]+)`)
	reSudoUser    = regexp.MustCompile(`sudo: (\w+) :`)
	reSudoCmd     = regexp.MustCompile(`COMMAND=(.+)$`)
	reSudoTTY     = regexp.MustCompile(`TTY=([^;]+)`)
	reAuthLogname = regexp.MustCompile(`logname=(\w+)`)
	reAuthTTY     = regexp.MustCompile(`tty=([^;]+)`)
	reSessionUser = regexp.MustCompile(`for user (\w+)`)
	rePamService  = regexp.MustCompile(`pam_unix\((\w+)`)
)

// Parser classifies raw log lines into normalized event strings of the
// form "KIND Key=Value ...". It is stateless and safe for concurrent use.
type Parser struct {
	tag string
}

// NewParser returns a parser that treats lines containing networkTag as
// kernel firewall LOG output.
func NewParser(networkTag string) *Parser {
	return &Parser{tag: networkTag}
}

// Parse returns the normalized event for line, or the empty string when
// the line matches no rule. Dispatch is by substring tests in a fixed
// order; the first matching rule wins.
func (p *Parser) Parse(line string) string {
	if p.tag != "" && strings.Contains(line, p.tag) {
		return p.parseNetwork(line)
	}

	if strings.Contains(line, "sshd") && strings.Contains(line, "Failed password") {
		return fmt.Sprintf("SSH_AUTH_FAIL User=%s Source=%s Method=password",
			group(reForUser, line), group(reFromIP, line))
	}

	if strings.Contains(line, "sshd") && strings.Contains(line, "Accepted") {
		method := "password"
		if strings.Contains(line, "publickey") {
			method = "key"
		}
		return fmt.Sprintf("SSH_AUTH_SUCCESS User=%s Source=%s Method=%s",
			group(reForUser, line), group(reFromIP, line), method)
	}

	if strings.Contains(line, "sshd") && strings.Contains(line, "Invalid user") {
		return fmt.Sprintf("SSH_INVALID_USER User=%s Source=%s",
			group(reInvalidUser, line), group(reFromIP, line))
	}

	if strings.Contains(line, "sshd") && strings.Contains(line, "Connection closed") {
		return fmt.Sprintf("SSH_CONNECTION_CLOSED User=%s Source=%s",
			group(reClosedUser, line), group(reClosedIP, line))
	}

	if strings.Contains(line, "sudo:") && strings.Contains(line, "COMMAND=") {
		tty := group(reSudoTTY, line)
		return fmt.Sprintf("SUDO_EXEC User=%s Session=%s TTY=%s Command=%s",
			group(reSudoUser, line), sessionClass(tty, "CRON"), tty, group(reSudoCmd, line))
	}

	if strings.Contains(line, "sudo") && strings.Contains(line, "authentication failure") {
		tty := group(reAuthTTY, line)
		return fmt.Sprintf("SUDO_AUTH_FAIL User=%s Session=%s TTY=%s",
			group(reAuthLogname, line), sessionClass(tty, "UNKNOWN"), tty)
	}

	if strings.Contains(line, "session opened") && strings.Contains(line, "pam_unix") {
		if svc := pamService(line); svc != "" {
			return fmt.Sprintf("SESSION_OPEN Service=%s User=%s", svc, group(reSessionUser, line))
		}
	}

	if strings.Contains(line, "session closed") && strings.Contains(line, "pam_unix") {
		if svc := pamService(line); svc != "" {
			return fmt.Sprintf("SESSION_CLOSE Service=%s User=%s", svc, group(reSessionUser, line))
		}
	}

	return ""
}

// parseNetwork handles kernel LOG lines. A tagged line that yields no
// network event is dropped rather than re-tried against the other rules.
func (p *Parser) parseNetwork(line string) string {
	src := reSrc.FindStringSubmatch(line)
	if src == nil {
		return ""
	}
	if strings.Contains(line, "PROTO=ICMP") {
		return fmt.Sprintf("NET_PING Source=%s", src[1])
	}
	if dpt := reDpt.FindStringSubmatch(line); dpt != nil {
		proto := "?"
		if m := reProto.FindStringSubmatch(line); m != nil {
			proto = m[1]
		}
		return fmt.Sprintf("NET_CONN Source=%s Port=%s Proto=%s", src[1], dpt[1], proto)
	}
	return ""
}

// group returns the first capture of re in line, or "unknown".
func group(re *regexp.Regexp, line string) string {
	if m := re.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return "unknown"
}

// sessionClass maps a TTY name to the session type used in sudo events.
func sessionClass(tty, fallback string) string {
	if strings.Contains(tty, "pts") {
		return "SSH"
	}
	if strings.Contains(tty, "tty") {
		return "LOCAL"
	}
	return fallback
}

// pamService extracts the pam_unix service name, returning "" for the
// sudo and cron services whose session records are pure noise.
func pamService(line string) string {
	m := rePamService.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	if m[1] == "sudo" || m[1] == "cron" {
		return ""
	}
	return m[1]
}

package pppd

import (
	"net"
	"strings"

	"github.com/jaracil/gsmppp"
)

// logRule maps a pppd log message to a link code.
type logRule struct {
	match string
	code  gsmppp.LinkCode
}

var logRules = []logRule{
	{"PAP authentication failed", gsmppp.LinkAuthFail},
	{"CHAP authentication failed", gsmppp.LinkAuthFail},
	{"LCP: timeout sending Config-Requests", gsmppp.LinkProtocol},
	{"IPCP: timeout sending Config-Requests", gsmppp.LinkProtocol},
	{"No response to", gsmppp.LinkPeerDead},
	{"Terminating on signal", gsmppp.LinkUser},
	{"Modem hangup", gsmppp.LinkConnectLost},
	{"Connect time expired", gsmppp.LinkConnectTime},
	{"Terminating connection due to lack of activity", gsmppp.LinkIdleTimeout},
	{"Serial line is looped back", gsmppp.LinkLoopback},
	{"Couldn't allocate", gsmppp.LinkAlloc},
	{"unrecognized option", gsmppp.LinkParam},
	{"Failed to open", gsmppp.LinkDevice},
	{"Couldn't open", gsmppp.LinkOpen},
}

// lineKind tells what a pppd log line carries.
type lineKind int

const (
	lineOther lineKind = iota
	lineCode
	lineLocalIP
	lineRemoteIP
	lineTerminated
)

// classifyLine reads one pppd log line. For lineCode the code is set; for
// the address kinds the address is set.
func classifyLine(line string) (lineKind, gsmppp.LinkCode, net.IP) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "local  IP address"):
		return lineLocalIP, 0, lastIP(line)
	case strings.HasPrefix(line, "remote IP address"):
		return lineRemoteIP, 0, lastIP(line)
	case strings.HasPrefix(line, "Connection terminated"):
		return lineTerminated, 0, nil
	}
	for _, r := range logRules {
		if strings.Contains(line, r.match) {
			return lineCode, r.code, nil
		}
	}
	return lineOther, 0, nil
}

func lastIP(line string) net.IP {
	f := strings.Fields(line)
	if len(f) == 0 {
		return nil
	}
	return net.ParseIP(f[len(f)-1])
}

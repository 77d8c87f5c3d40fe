package simmodem

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	maxLine = 256
	maxBody = 1024
)

var errSyntax = errors.New("syntax error")

// command is one AT command of a command line.
type command struct {
	name   string
	num    string
	query  bool
	test   bool
	assign bool
	val    string
}

func checkValidCmdChar(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func checkValidNumChar(b byte) bool {
	return b >= '0' && b <= '9'
}

// parseLine splits the text after "AT" into commands. Basic commands chain;
// an extended command or a dial string takes the rest of the line.
func parseLine(line string) ([]command, error) {
	var cmds []command
	i := 0
	for i < len(line) {
		b := line[i]
		switch {
		case b == ' ':
			i++
		case b == '+' || b == '#':
			j := i + 1
			for j < len(line) && checkValidCmdChar(line[j]) {
				j++
			}
			if j == i+1 {
				return nil, errSyntax
			}
			c := command{name: strings.ToUpper(line[i:j])}
			rest := line[j:]
			switch {
			case rest == "":
			case rest == "?":
				c.query = true
			case rest == "=?":
				c.test = true
			case rest[0] == '=':
				c.assign = true
				c.val = rest[1:]
			default:
				return nil, errSyntax
			}
			return append(cmds, c), nil
		case b == 'D' || b == 'd':
			return append(cmds, command{name: "D", assign: true, val: strings.TrimSpace(line[i+1:])}), nil
		case b == '&' || checkValidCmdChar(b):
			j := i + 1
			if b == '&' {
				if j >= len(line) || !checkValidCmdChar(line[j]) {
					return nil, errSyntax
				}
				j++
			}
			c := command{name: strings.ToUpper(line[i:j])}
			k := j
			for k < len(line) && checkValidNumChar(line[k]) {
				k++
			}
			c.num = line[j:k]
			if k < len(line) && line[k] == '?' {
				c.query = true
				k++
			} else if k < len(line) && line[k] == '=' {
				v := k + 1
				for v < len(line) && checkValidNumChar(line[v]) {
					v++
				}
				c.assign = true
				c.val = line[k+1 : v]
				k = v
			}
			cmds = append(cmds, c)
			i = k
		default:
			return nil, errSyntax
		}
	}
	return cmds, nil
}

// params splits a parameter list on commas and strips the quotes.
func params(val string) []string {
	if val == "" {
		return nil
	}
	f := strings.Split(val, ",")
	for i := range f {
		f[i] = strings.Trim(strings.TrimSpace(f[i]), "\"")
	}
	return f
}

func (m *Modem) dial() RetCode {
	if m.st != StatusIdle {
		return RetCodeError
	}
	if m.cfun != 1 || !m.registered || !m.pinOK {
		return RetCodeNoCarrier
	}
	m.printRetCode(RetCodeConnect)
	m.setStatus(StatusOnline)
	return RetCodeSilent
}

func (m *Modem) processCommand(c command) RetCode {
	switch c.name {
	case "E":
		switch c.num {
		case "", "0":
			m.echo = false
		case "1":
			m.echo = true
		default:
			return RetCodeError
		}
	case "Z", "&F":
		m.echo = true
		m.textMode = false
		if m.st == StatusOnlineCmd {
			m.setStatus(StatusIdle)
		}
	case "H":
		if m.st == StatusOnlineCmd {
			m.setStatus(StatusIdle)
		}
	case "O":
		if m.st != StatusOnlineCmd {
			return RetCodeError
		}
		m.printRetCode(RetCodeConnect)
		m.setStatus(StatusOnline)
		return RetCodeSilent
	case "D":
		number := strings.TrimSuffix(strings.TrimSpace(c.val), ";")
		if strings.HasPrefix(number, "*99") && strings.HasSuffix(number, "#") {
			return m.dial()
		}
		return RetCodeNoCarrier
	case "I":
		m.reply("SIMMODEM")
	case "+CFUN":
		return m.cmdCFUN(c)
	case "+CPIN":
		return m.cmdCPIN(c)
	case "+CREG":
		if c.query {
			stat := 0
			if m.cfun == 1 && m.registered && m.pinOK {
				stat = 1
			}
			m.reply("+CREG: 0,%d", stat)
		}
	case "+CNMI", "+CMEE", "+CSCS":
	case "+CGDCONT":
		return m.cmdCGDCONT(c)
	case "+CGDATA":
		if !c.assign {
			return RetCodeError
		}
		return m.dial()
	case "+CMGF":
		return m.cmdCMGF(c)
	case "+CMGL":
		return m.cmdCMGL(c)
	case "+CMGS":
		return m.cmdCMGS(c)
	case "+CMGD":
		return m.cmdCMGD(c)
	default:
		if strings.HasPrefix(c.name, "+") || strings.HasPrefix(c.name, "#") {
			return RetCodeError
		}
	}
	return RetCodeOk
}

func (m *Modem) cmdCFUN(c command) RetCode {
	switch {
	case c.query:
		m.reply("+CFUN: %d", m.cfun)
	case c.test:
		m.reply("+CFUN: (0,1,4)")
	case c.assign:
		p := params(c.val)
		if len(p) == 0 {
			return RetCodeError
		}
		fun, err := strconv.Atoi(p[0])
		if err != nil || (fun != 0 && fun != 1 && fun != 4) {
			return RetCodeError
		}
		m.cfun = fun
		if fun != 1 && m.st == StatusOnlineCmd {
			m.setStatus(StatusIdle)
		}
	default:
		return RetCodeError
	}
	return RetCodeOk
}

func (m *Modem) cmdCPIN(c command) RetCode {
	switch {
	case c.query:
		if m.pinOK {
			m.reply("+CPIN: READY")
		} else {
			m.reply("+CPIN: SIM PIN")
		}
	case c.assign:
		p := params(c.val)
		if len(p) == 0 || p[0] != m.pin {
			m.reply("+CME ERROR: 16")
			return RetCodeSilent
		}
		m.pinOK = true
	default:
		return RetCodeError
	}
	return RetCodeOk
}

func (m *Modem) cmdCGDCONT(c command) RetCode {
	switch {
	case c.query:
		if m.apn != "" {
			m.reply("+CGDCONT: 1,\"IP\",\"%s\",\"0.0.0.0\",0,0", m.apn)
		}
	case c.assign:
		p := params(c.val)
		if len(p) < 3 || p[0] != "1" {
			return RetCodeError
		}
		m.apn = p[2]
	default:
		return RetCodeError
	}
	return RetCodeOk
}

func (m *Modem) cmdCMGF(c command) RetCode {
	switch {
	case c.query:
		mode := 0
		if m.textMode {
			mode = 1
		}
		m.reply("+CMGF: %d", mode)
	case c.assign:
		switch c.val {
		case "0":
			m.textMode = false
		case "1":
			m.textMode = true
		default:
			return RetCodeError
		}
	default:
		return RetCodeError
	}
	return RetCodeOk
}

// smsReady returns the error to report when messages cannot be handled.
func (m *Modem) smsReady() (RetCode, bool) {
	if !m.pinOK {
		return m.cmsError(311), false
	}
	if !m.textMode {
		return m.cmsError(302), false
	}
	return RetCodeOk, true
}

func (m *Modem) cmdCMGL(c command) RetCode {
	if ret, ok := m.smsReady(); !ok {
		return ret
	}
	stat, peek := SMSUnread, false
	if p := params(c.val); len(p) > 0 {
		stat = p[0]
		peek = len(p) > 1 && p[1] == "1"
	}
	switch stat {
	case SMSAll, SMSUnread, SMSRead, "STO UNSENT", "STO SENT":
	default:
		return RetCodeError
	}
	var out strings.Builder
	for i := range m.store {
		sms := &m.store[i]
		if stat != SMSAll && sms.Status != stat {
			continue
		}
		fmt.Fprintf(&out, "+CMGL: %d,\"%s\",\"%s\",,\"%s\"\r\n%s\r\n", sms.Index, sms.Status, sms.Sender, sms.Timestamp, sms.Body)
		if !peek && sms.Status == SMSUnread {
			sms.Status = SMSRead
		}
	}
	if out.Len() > 0 {
		m.ttyWriteStr("\r\n" + out.String())
	}
	return RetCodeOk
}

func (m *Modem) cmdCMGS(c command) RetCode {
	if ret, ok := m.smsReady(); !ok {
		return ret
	}
	p := params(c.val)
	if !c.assign || len(p) == 0 || p[0] == "" {
		return RetCodeError
	}
	m.composing = true
	m.composeTo = p[0]
	m.composeBuf.Reset()
	m.ttyWriteStr("\r\n> ")
	return RetCodeSilent
}

func (m *Modem) cmdCMGD(c command) RetCode {
	if ret, ok := m.smsReady(); !ok {
		return ret
	}
	p := params(c.val)
	if !c.assign || len(p) == 0 {
		return RetCodeError
	}
	index, err := strconv.Atoi(p[0])
	if err != nil {
		return RetCodeError
	}
	flag := 0
	if len(p) > 1 {
		flag, _ = strconv.Atoi(p[1])
	}
	if flag == 0 {
		if !m.remove(index) {
			return m.cmsError(321)
		}
		return RetCodeOk
	}
	kept := m.store[:0]
	for _, sms := range m.store {
		switch {
		case flag >= 4:
		case flag >= 1 && sms.Status == SMSRead:
		default:
			kept = append(kept, sms)
		}
	}
	m.store = kept
	return RetCodeOk
}

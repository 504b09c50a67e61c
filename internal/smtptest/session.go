package smtptest

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

const (
	idleTimeout    = 30 * time.Second
	maxMessageSize = 10 * 1024 * 1024
)

// session serves a single client connection.
type session struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	state    int
	auth     authenticator
	hostname string
	logger   *slog.Logger

	tlsConfig *tls.Config
	tlsActive bool

	// rejectData makes the sink refuse every message after DATA.
	rejectData bool
	record     func(Delivery)

	mailFrom string
	rcptTo   []string
}

func (s *session) handle() {
	defer s.conn.Close()

	s.reader = bufio.NewReader(s.conn)
	s.writer = bufio.NewWriter(s.conn)

	s.writeLine("220 %s ESMTP smtptest", s.hostname)

	for {
		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(cmd, arg); done {
			return
		}
	}
}

func (s *session) handleCommand(cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA()
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.state = stateGreeted
	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.hostname, arg)
	if s.tlsConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.auth.enabled() {
		s.writeLine("250-AUTH PLAIN LOGIN")
	}
	s.writeLine("250 SIZE %d", maxMessageSize)
}

func (s *session) handleSTARTTLS() {
	if s.tlsConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.logger.Debug("TLS handshake failed", "error", err)
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
}

func (s *session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.auth.enabled() {
		s.writeLine("503 AUTH not available")
		return
	}

	parts := strings.SplitN(arg, " ", 2)
	var err error
	switch strings.ToUpper(parts[0]) {
	case "PLAIN":
		encoded := ""
		if len(parts) > 1 {
			encoded = parts[1]
		} else {
			s.writeLine("334 ")
			encoded = s.readResponse()
		}
		err = s.auth.verifyPlain(encoded)
	case "LOGIN":
		s.writeLine("334 VXNlcm5hbWU6")
		user := s.readResponse()
		s.writeLine("334 UGFzc3dvcmQ6")
		pass := s.readResponse()
		err = s.auth.verifyLogin(user, pass)
	default:
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	if err != nil {
		s.writeLine("535 Authentication failed")
		return
	}
	s.state = stateAuthOK
	s.writeLine("235 Authentication successful")
}

func (s *session) readResponse() string {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimRight(line, "\r\n")
}

func (s *session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.auth.enabled() && s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	addr := extractAddress(arg[5:])
	if addr == "" {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

func (s *session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr := extractAddress(arg[3:])
	if addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

func (s *session) handleDATA() {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	var data strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.logger.Debug("error reading DATA", "error", err)
			return
		}
		if strings.TrimRight(line, "\r\n") == "." {
			break
		}
		// Undo dot-stuffing.
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}
		if data.Len()+len(line) > maxMessageSize {
			s.writeLine("552 Message size exceeds limit")
			s.resetTransaction()
			return
		}
		data.WriteString(line)
	}
	defer s.resetTransaction()

	if s.rejectData {
		s.writeLine("554 Transaction failed")
		return
	}

	raw := []byte(data.String())
	msg, err := Parse(raw)
	if err != nil {
		s.logger.Debug("failed to parse message", "error", err)
		s.writeLine("550 Failed to process message")
		return
	}

	s.record(Delivery{
		From:    s.mailFrom,
		To:      append([]string(nil), s.rcptTo...),
		Message: msg,
		Raw:     raw,
		TLS:     s.tlsActive,
	})
	s.writeLine("250 OK message queued")
}

// resetTransaction clears the envelope without dropping greeting or auth.
func (s *session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	if s.auth.enabled() && s.state >= stateAuthOK {
		s.state = stateAuthOK
	} else if s.state >= stateGreeted {
		s.state = stateGreeted
	}
}

func (s *session) writeLine(format string, args ...any) {
	if _, err := fmt.Fprintf(s.writer, format+"\r\n", args...); err != nil {
		return
	}
	_ = s.writer.Flush()
}

// parseCommand splits an SMTP command line into the verb and its argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress handles both "<user@example.com> PARAMS" and bare forms.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}

	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

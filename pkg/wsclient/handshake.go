package wsclient

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// websocketGUID is the fixed magic string appended to the client key
// when computing the expected Sec-WebSocket-Accept value.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Handshake errors.
var (
	ErrBadScheme   = errors.New("wsclient: URL scheme must be ws or wss")
	ErrMissingHost = errors.New("wsclient: URL must include a host")
)

// HandshakeError reports a rejected upgrade exchange. Status is the
// parsed response status code, or -1 when the status line was
// malformed. Accept is the Sec-WebSocket-Accept value the server
// sent, empty if absent.
type HandshakeError struct {
	Status int
	Accept string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("wsclient: handshake rejected: status %d, accept %q", e.Status, e.Accept)
}

// acceptKey computes the expected Sec-WebSocket-Accept value for a
// client key: base64(SHA-1(key + GUID)).
func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// generateKey draws 16 random bytes from rand and base64-encodes them
// for the Sec-WebSocket-Key header.
func generateKey(rand io.Reader) (string, error) {
	var b [16]byte
	if _, err := io.ReadFull(rand, b[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

// parseEndpoint validates a ws/wss URL and resolves the dial address.
// The port defaults to 80 for ws and 443 for wss.
func parseEndpoint(rawURL string) (u *url.URL, hostPort string, secure bool, err error) {
	u, err = url.Parse(rawURL)
	if err != nil {
		return nil, "", false, fmt.Errorf("wsclient: parse URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		secure = false
	case "wss":
		secure = true
	default:
		return nil, "", false, ErrBadScheme
	}
	host := u.Hostname()
	if host == "" {
		return nil, "", false, ErrMissingHost
	}
	port := u.Port()
	if port == "" {
		if secure {
			port = "443"
		} else {
			port = "80"
		}
	}
	return u, net.JoinHostPort(host, port), secure, nil
}

// buildRequest composes the upgrade request. hostPort is the value
// for the Host header; requestURI is the path plus optional query.
func buildRequest(requestURI, hostPort, key, origin string) []byte {
	var b strings.Builder
	b.WriteString("GET " + requestURI + " HTTP/1.1\r\n")
	b.WriteString("Host: " + hostPort + "\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Key: " + key + "\r\n")
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	b.WriteString("Origin: " + origin + "\r\n")
	b.WriteString("\r\n")
	return []byte(b.String())
}

// readResponse reads from nc until the header terminator is observed
// and splits the stream there. Bytes past the terminator belong to
// the framed channel and are returned as leftover.
func readResponse(nc net.Conn) (header, leftover []byte, err error) {
	var buf []byte
	chunk := make([]byte, 1024)
	for {
		if i := bytes.Index(buf, []byte("\r\n\r\n")); i >= 0 {
			return buf[:i], buf[i+4:], nil
		}
		n, err := nc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}
		if err != nil {
			if err == io.EOF {
				return nil, nil, ErrConnectionClosed
			}
			return nil, nil, err
		}
	}
}

// parseResponse extracts the status code and headers from raw header
// bytes. A malformed status line degrades to the -1 sentinel rather
// than failing; header names are lowercased so lookups are
// case-insensitive.
func parseResponse(header []byte) (status int, headers map[string]string) {
	status = -1
	headers = make(map[string]string)

	lines := strings.Split(string(header), "\r\n")
	if len(lines) == 0 {
		return status, headers
	}

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) >= 2 {
		if code, err := strconv.Atoi(parts[1]); err == nil {
			status = code
		}
	}

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return status, headers
}

// handshake performs the HTTP upgrade exchange over c.nc. On success
// the leftover bytes past the response header seed the connection's
// read buffer and the connection is Open.
func (c *Conn) handshake(u *url.URL, hostPort string) error {
	key, err := generateKey(c.rand)
	if err != nil {
		return fmt.Errorf("wsclient: generate key: %w", err)
	}

	if _, err := c.nc.Write(buildRequest(u.RequestURI(), hostPort, key, c.origin)); err != nil {
		return fmt.Errorf("wsclient: send upgrade request: %w", err)
	}

	header, leftover, err := readResponse(c.nc)
	if err != nil {
		return fmt.Errorf("wsclient: read upgrade response: %w", err)
	}

	status, headers := parseResponse(header)
	accept := headers["sec-websocket-accept"]
	if status != 101 || accept != acceptKey(key) {
		return &HandshakeError{Status: status, Accept: accept}
	}

	c.buf = leftover
	c.state = StateOpen
	c.logger.Debug("handshake complete", "url", u.String(), "leftover", len(leftover))
	return nil
}

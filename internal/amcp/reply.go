package amcp

import (
	"bufio"
	"strconv"
	"strings"
)

// Reply is one parsed engine reply: a status line plus any payload lines.
type Reply struct {
	Code   int
	Status string
	Data   []string
}

// OK reports whether the reply carries a 2xx success code.
func (r Reply) OK() bool {
	return r.Code >= 200 && r.Code < 300
}

// Int parses the first payload line as a signed integer. Used for
// CALL ... FRAME replies.
func (r Reply) Int() (int64, bool) {
	if len(r.Data) == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(r.Data[0]), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// readReply consumes one reply unit from the stream. 200 replies carry a
// payload terminated by an empty line, 201 replies carry exactly one payload
// line; everything else is a bare status line. An unparseable status line is
// a ProtocolError: the stream is assumed desynchronized.
func readReply(br *bufio.Reader, addr string) (Reply, error) {
	line, err := readLine(br)
	if err != nil {
		return Reply{}, &NetworkError{Addr: addr, Err: err}
	}
	code, status, ok := parseStatus(line)
	if !ok {
		return Reply{}, &ProtocolError{Addr: addr, Line: line}
	}
	r := Reply{Code: code, Status: status}
	switch code {
	case 200:
		for {
			data, err := readLine(br)
			if err != nil {
				return Reply{}, &NetworkError{Addr: addr, Err: err}
			}
			if data == "" {
				break
			}
			r.Data = append(r.Data, data)
		}
	case 201:
		data, err := readLine(br)
		if err != nil {
			return Reply{}, &NetworkError{Addr: addr, Err: err}
		}
		r.Data = append(r.Data, data)
	}
	return r, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseStatus(line string) (code int, status string, ok bool) {
	if len(line) < 3 {
		return 0, "", false
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil || code < 100 || code > 599 {
		return 0, "", false
	}
	return code, strings.TrimSpace(line[3:]), true
}

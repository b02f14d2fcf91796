package amcp

import (
	"bufio"
	"errors"
	"strings"
	"testing"
)

func reader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestReadReplySimple(t *testing.T) {
	r, err := readReply(reader("202 PLAY OK\r\n"), "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Code != 202 || r.Status != "PLAY OK" || !r.OK() {
		t.Errorf("unexpected reply: %+v", r)
	}
}

func TestReadReplyWithPayload(t *testing.T) {
	r, err := readReply(reader("201 CALL OK\r\n1234\r\n"), "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := r.Int()
	if !ok || v != 1234 {
		t.Errorf("Int() = %d, %v", v, ok)
	}
}

func TestReadReplyMultiLinePayload(t *testing.T) {
	r, err := readReply(reader("200 INFO OK\r\nline one\r\nline two\r\n\r\n"), "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Data) != 2 || r.Data[0] != "line one" || r.Data[1] != "line two" {
		t.Errorf("unexpected payload: %v", r.Data)
	}
}

func TestReadReplyFailureCode(t *testing.T) {
	r, err := readReply(reader("501 SERVER ERROR\r\n"), "test")
	if err != nil {
		t.Fatalf("a failure status is a valid reply: %v", err)
	}
	if r.OK() {
		t.Error("501 must not be OK")
	}
}

func TestReadReplyMalformed(t *testing.T) {
	for _, wire := range []string{"garbage\r\n", "x\r\n", "99 too low\r\n", "700 too high\r\n"} {
		_, err := readReply(reader(wire), "test")
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("wire %q: expected protocol error, got %v", wire, err)
		}
	}
}

func TestReadReplyTruncated(t *testing.T) {
	_, err := readReply(reader("201 CALL OK\r\n"), "test")
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("expected network error on truncated payload, got %v", err)
	}
}

func TestReplyIntGarbage(t *testing.T) {
	r := Reply{Code: 201, Data: []string{"not-a-number"}}
	if _, ok := r.Int(); ok {
		t.Error("garbage payload must not parse")
	}
}

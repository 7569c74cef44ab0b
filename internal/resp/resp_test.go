package resp

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func readAll(t *testing.T, input string) [][][]byte {
	t.Helper()
	r := NewReader(strings.NewReader(input))
	var cmds [][][]byte
	for {
		cmd, err := r.ReadCommand()
		if err != nil {
			return cmds
		}
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
}

func TestReadMultiBulk(t *testing.T) {
	cmds := readAll(t, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}
	want := [][]byte{[]byte("SET"), []byte("foo"), []byte("bar")}
	if !reflect.DeepEqual(cmds[0], want) {
		t.Fatalf("got %q", cmds[0])
	}
}

func TestReadBinarySafeBulk(t *testing.T) {
	cmds := readAll(t, "*2\r\n$3\r\nGET\r\n$3\r\na\x00b\r\n")
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}
	if !bytes.Equal(cmds[0][1], []byte("a\x00b")) {
		t.Fatalf("NUL byte not preserved: %q", cmds[0][1])
	}
}

func TestReadInline(t *testing.T) {
	cmds := readAll(t, "PING\r\nSET foo bar\r\n")
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(cmds))
	}
	if string(cmds[1][2]) != "bar" {
		t.Fatalf("got %q", cmds[1])
	}
}

func TestReadInlineQuotes(t *testing.T) {
	cmds := readAll(t, "SET \"a b\" 'c d'\r\n")
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}
	if string(cmds[0][1]) != "a b" || string(cmds[0][2]) != "c d" {
		t.Fatalf("got %q", cmds[0])
	}
}

func TestReadInlineEscapes(t *testing.T) {
	cmds := readAll(t, "ECHO \"a\\x41\\n\"\r\n")
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}
	if string(cmds[0][1]) != "aA\n" {
		t.Fatalf("got %q", cmds[0][1])
	}
}

func TestEmptyInlineSkipped(t *testing.T) {
	cmds := readAll(t, "\r\nPING\r\n")
	if len(cmds) != 1 || string(cmds[0][0]) != "PING" {
		t.Fatalf("got %q", cmds)
	}
}

func TestProtocolErrors(t *testing.T) {
	for _, input := range []string{
		"*2\r\n$3\r\nGET\r\n:5\r\n",
		"*1\r\n$3\r\nabcd\r\n",
		"*x\r\n",
		"SET \"unbalanced\r\n",
	} {
		r := NewReader(strings.NewReader(input))
		if _, err := r.ReadCommand(); err == nil {
			t.Errorf("input %q: expected error", input)
		}
	}
}

func TestWriteValues(t *testing.T) {
	tests := []struct {
		value Value
		want  string
	}{
		{SimpleString("OK"), "+OK\r\n"},
		{Integer(42), ":42\r\n"},
		{BulkString("bar"), "$3\r\nbar\r\n"},
		{BulkString{}, "$0\r\n\r\n"},
		{nil, "$-1\r\n"},
		{NullArray, "*-1\r\n"},
		{Array{Integer(1), BulkString("x")}, "*2\r\n:1\r\n$1\r\nx\r\n"},
		{Array{}, "*0\r\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		if err := w.WriteValue(tt.value); err != nil {
			t.Fatalf("write %v: %v", tt.value, err)
		}
		if buf.String() != tt.want {
			t.Errorf("value %v: got %q want %q", tt.value, buf.String(), tt.want)
		}
	}
}

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteValue(errValue("ERR boom")); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "-ERR boom\r\n" {
		t.Fatalf("got %q", buf.String())
	}
}

type errValue string

func (e errValue) Error() string { return string(e) }

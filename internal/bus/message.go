package bus

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// WindowSize is the fixed read window. A status message larger than this
// is truncated and fails to parse; the host never writes one.
const WindowSize = 32 * 1024

// Listen is the endpoint announced by the host.
type Listen struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// Message is one decoded bus payload. Raw always holds the full object;
// Listen is set only for the {"server":{"listen":{...}}} shape.
type Message struct {
	Raw    map[string]any
	Listen *Listen
}

// Port returns the announced port, or 0.
func (m Message) Port() uint16 {
	if m.Listen == nil {
		return 0
	}
	return m.Listen.Port
}

// ParseError carries bus content that was not valid JSON.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse bus content %q: %v", e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ReadWindow reads at most WindowSize bytes from offset 0. The host
// truncates and rewrites the file, so only the head is meaningful.
func ReadWindow(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, WindowSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

// Decode strips NUL padding and whitespace and parses what remains. Empty
// content returns ok=false with no error.
func Decode(raw []byte) (Message, bool, error) {
	content := bytes.TrimSpace(bytes.ReplaceAll(raw, []byte{0}, nil))
	if len(content) == 0 {
		return Message{}, false, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(content, &obj); err != nil {
		return Message{}, false, &ParseError{Raw: string(content), Err: err}
	}
	if obj == nil {
		// a bare null carries nothing
		return Message{}, false, nil
	}

	msg := Message{Raw: obj}
	var shape struct {
		Server *struct {
			Listen *Listen `json:"listen"`
		} `json:"server"`
	}
	// an unexpected shape is accepted, it just carries no endpoint
	if json.Unmarshal(content, &shape) == nil && shape.Server != nil {
		msg.Listen = shape.Server.Listen
	}
	return msg, true, nil
}

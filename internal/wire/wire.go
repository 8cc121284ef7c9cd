// Package wire is the frame protocol between the server and an isolated
// worker process. Every frame is a 4-byte big-endian length followed by a
// JSON payload. The server writes one Request to the worker's stdin; the
// worker answers on stdout with any number of log Messages and exactly one
// result Message.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/seantiz/browserd/internal/model"
)

// MaxMessageSize caps a single frame payload (16 MiB).
const MaxMessageSize = 16 << 20

const headerSize = 4

// ErrFrameTooLarge is returned when a frame exceeds MaxMessageSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Worker to server message types.
const (
	TypeLog    = "log"
	TypeResult = "result"
)

// Settings carries the engine configuration a worker needs.
type Settings struct {
	Model         string `json:"model"`
	BaseURL       string `json:"base_url,omitempty"`
	APIKey        string `json:"api_key"`
	Headless      bool   `json:"headless"`
	InstallDriver bool   `json:"install_driver,omitempty"`
	MaxSteps      int    `json:"max_steps"`
}

// Request asks a worker to run one task.
type Request struct {
	TaskID   string   `json:"task_id"`
	Prompt   string   `json:"prompt"`
	Settings Settings `json:"settings"`
}

// Message is the envelope for everything a worker sends back. Log frames
// carry Line; the final frame has Type=result and carries Result.
type Message struct {
	Type   string            `json:"type"`
	Line   string            `json:"line,omitempty"`
	Result *model.TaskResult `json:"result,omitempty"`
}

// LogMessage builds a log frame.
func LogMessage(line string) Message {
	return Message{Type: TypeLog, Line: line}
}

// ResultMessage builds the final frame.
func ResultMessage(r model.TaskResult) Message {
	return Message{Type: TypeResult, Result: &r}
}

// Write encodes v as one frame. Header and payload go out in a single Write
// call so concurrent writers serialised by a mutex never interleave.
func Write(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	frame := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[headerSize:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Read decodes one frame from r into v. A clean end of stream before the
// header is reported as io.EOF.
func Read(r io.Reader, v any) error {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read frame header: %w", err)
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}

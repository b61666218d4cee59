package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bnema/whiteboard-tutor/internal/domain"
)

// DefaultMaxLineBytes bounds a single record. Longer lines are dropped.
const DefaultMaxLineBytes = 4 << 20

var errLineTooLong = errors.New("line exceeds maximum record size")

// Decoder turns a chunked NDJSON byte stream into events. It is lazy,
// finite and not restartable. Malformed lines are logged and skipped.
type Decoder struct {
	ctx     context.Context
	r       *bufio.Reader
	logger  *slog.Logger
	maxLine int

	line    int
	dropped int
	event   Event
	err     error
	done    bool
}

type DecoderOption func(*Decoder)

func WithLogger(logger *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMaxLineBytes(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLine = n
		}
	}
}

func NewDecoder(ctx context.Context, r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		ctx:     ctx,
		r:       bufio.NewReaderSize(r, 64*1024),
		logger:  slog.Default(),
		maxLine: DefaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next advances to the next well-formed event. It returns false at the end
// of the stream, on a read error, or once the context is cancelled.
func (d *Decoder) Next() bool {
	for !d.done {
		if err := d.ctx.Err(); err != nil {
			d.finish(err)
			return false
		}

		raw, readErr := d.readLine()
		if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, errLineTooLong) {
			d.finish(fmt.Errorf("read stream: %w", readErr))
			return false
		}
		d.line++

		if errors.Is(readErr, errLineTooLong) {
			d.drop(readErr, nil)
			continue
		}

		ev, ok := d.parse(raw)
		if errors.Is(readErr, io.EOF) {
			d.done = true
		}
		if ok {
			d.event = ev
			return true
		}
	}

	return false
}

func (d *Decoder) Event() Event {
	return d.event
}

// Err returns the error that stopped decoding, excluding a clean end of stream.
func (d *Decoder) Err() error {
	return d.err
}

// Dropped reports how many lines were skipped as malformed.
func (d *Decoder) Dropped() int {
	return d.dropped
}

func (d *Decoder) finish(err error) {
	d.done = true
	d.err = err
}

func (d *Decoder) parse(raw []byte) (Event, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Event{}, false
	}

	var ev Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		d.drop(err, trimmed)
		return Event{}, false
	}

	switch ev.Type {
	case EventText:
		return Event{Type: EventText, Content: ev.Content}, true
	case EventToolCall:
		return Event{Type: EventToolCall, ToolName: ev.ToolName, Args: ev.Args}, true
	default:
		d.drop(fmt.Errorf("unknown record type %q", ev.Type), trimmed)
		return Event{}, false
	}
}

func (d *Decoder) drop(cause error, raw []byte) {
	d.dropped++
	preview := raw
	if len(preview) > 120 {
		preview = preview[:120]
	}
	d.logger.Warn("dropping stream record",
		"error", fmt.Errorf("%w: %w", domain.ErrDecode, cause),
		"line", d.line,
		"preview", string(preview),
	)
}

// readLine returns one line without enforcing JSON validity. Oversized lines
// are consumed to their end and reported with errLineTooLong.
func (d *Decoder) readLine() ([]byte, error) {
	var line []byte
	tooLong := false

	for {
		frag, err := d.r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(frag) > d.maxLine {
				tooLong = true
				line = nil
			} else {
				line = append(line, frag...)
			}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			if errors.Is(err, io.EOF) {
				d.done = true
			}
			return nil, errLineTooLong
		}
		return line, err
	}
}

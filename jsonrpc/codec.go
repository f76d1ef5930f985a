package jsonrpc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// ErrMissingContentLength is returned when a header block ends without a
// Content-Length field.
var ErrMissingContentLength = errors.New("missing Content-Length header")

// Codec reads and writes Content-Length framed JSON-RPC messages
// as specified by the LSP base protocol.
type Codec struct {
	reader *bufio.Reader
	writer io.Writer
	wmu    sync.Mutex
}

// NewCodec creates a new Content-Length framed codec over the given streams.
// Either side may be nil when the codec is used in one direction only.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	c := &Codec{writer: w}
	if r != nil {
		c.reader = bufio.NewReaderSize(r, 64*1024)
	}
	return c
}

// Read reads a single Content-Length framed message from the stream.
func (c *Codec) Read() ([]byte, error) {
	contentLen := -1
	headers := 0
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("reading header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if headers == 0 {
				continue
			}
			break
		}
		headers++
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		key := strings.TrimSpace(line[:colon])
		val := strings.TrimSpace(line[colon+1:])

		if strings.EqualFold(key, "Content-Length") {
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid Content-Length %q", val)
			}
			contentLen = n
		}
	}

	if contentLen < 0 {
		return nil, ErrMissingContentLength
	}

	body := make([]byte, contentLen)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// Write writes a Content-Length framed message to the stream.
func (c *Codec) Write(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	_, err := c.writer.Write(Frame(data))
	return err
}

// Frame prefixes data with its Content-Length header.
func Frame(data []byte) []byte {
	header := "Content-Length: " + strconv.Itoa(len(data)) + "\r\n\r\n"
	buf := make([]byte, 0, len(header)+len(data))
	buf = append(buf, header...)
	return append(buf, data...)
}

// SplitFrame extracts the first complete frame from data. It returns the
// body and the number of bytes consumed, or n == 0 when data does not yet
// hold a whole frame.
func SplitFrame(data []byte) (body []byte, n int, err error) {
	contentLen := -1
	pos := 0
	headers := 0
	for {
		i := bytes.IndexByte(data[pos:], '\n')
		if i < 0 {
			return nil, 0, nil
		}
		line := strings.TrimRight(string(data[pos:pos+i]), "\r")
		pos += i + 1
		if line == "" {
			if headers == 0 {
				continue
			}
			break
		}
		headers++
		key, val, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil || n < 0 {
				return nil, 0, fmt.Errorf("invalid Content-Length %q", strings.TrimSpace(val))
			}
			contentLen = n
		}
	}
	if contentLen < 0 {
		return nil, 0, ErrMissingContentLength
	}
	if len(data)-pos < contentLen {
		return nil, 0, nil
	}
	return data[pos : pos+contentLen], pos + contentLen, nil
}

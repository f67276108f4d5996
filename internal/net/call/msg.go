package call

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/kanengo/lightrpc/runtime/pool"
)

// Frame format, all integers big-endian:
//
//	id       [8]byte            -- correlation id, same in request and response
//	length   [4]byte            -- body length
//	body     [length]byte
//
// Request body:
//
//	interfaceId [8]byte
//	methodLen   [4]byte
//	method      [methodLen]byte
//	repeated:   argLen [4]byte, arg [argLen]byte
//
// Response body:
//
//	status  [1]byte             -- statusOK or statusError
//	payload                     -- result, or an encoded error
const (
	headerSize   = 12
	maxFrameSize = 100 << 20
)

const (
	statusOK    uint8 = 0
	statusError uint8 = 1
)

var (
	// ErrIncomplete means the buffer does not yet hold a whole frame.
	ErrIncomplete = errors.New("call: incomplete frame")

	// ErrFrameTooLarge means a frame announces a body above the 100MiB limit.
	// The stream cannot be resynchronized after it.
	ErrFrameTooLarge = errors.New("call: frame too large")

	// ErrMalformed means a complete frame whose body cannot be parsed.
	ErrMalformed = errors.New("call: malformed frame")
)

// Request is one call of a remote method.
type Request struct {
	ID          uint64
	InterfaceID int64
	Method      string
	Args        [][]byte
}

// Response carries the result of the request with the same ID. A non-nil Err
// means the call failed and Payload is empty.
type Response struct {
	ID      uint64
	Payload []byte
	Err     error
}

// requestParts returns the body of req as a list of byte slices, so that
// large arguments can be written without being copied.
func requestParts(req *Request) ([][]byte, int, error) {
	if len(req.Method) > maxFrameSize {
		return nil, 0, fmt.Errorf("%w: method name of %d bytes", ErrFrameTooLarge, len(req.Method))
	}

	head := make([]byte, 12, 12+len(req.Method))
	binary.BigEndian.PutUint64(head[0:], uint64(req.InterfaceID))
	binary.BigEndian.PutUint32(head[8:], uint32(len(req.Method)))
	head = append(head, req.Method...)

	parts := make([][]byte, 0, 1+2*len(req.Args))
	parts = append(parts, head)
	size := len(head)

	lens := make([]byte, 4*len(req.Args))
	for i, arg := range req.Args {
		l := lens[4*i : 4*i+4]
		binary.BigEndian.PutUint32(l, uint32(len(arg)))
		parts = append(parts, l, arg)
		size += 4 + len(arg)
		if size > maxFrameSize {
			return nil, 0, fmt.Errorf("%w: request body exceeds %d bytes", ErrFrameTooLarge, maxFrameSize)
		}
	}

	return parts, size, nil
}

func responseParts(resp *Response) [][]byte {
	if resp.Err != nil {
		return [][]byte{{statusError}, encodeError(resp.Err)}
	}
	return [][]byte{{statusOK}, resp.Payload}
}

func flatten(id uint64, parts [][]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}

	data := make([]byte, headerSize, headerSize+size)
	putHeader(data, id, size)
	for _, p := range parts {
		data = append(data, p...)
	}

	return data
}

func putHeader(hdr []byte, id uint64, size int) {
	binary.BigEndian.PutUint64(hdr[0:], id)
	binary.BigEndian.PutUint32(hdr[8:], uint32(size))
}

// EncodeRequest returns the complete frame for req.
func EncodeRequest(req *Request) ([]byte, error) {
	parts, _, err := requestParts(req)
	if err != nil {
		return nil, err
	}

	return flatten(req.ID, parts), nil
}

// EncodeResponse returns the complete frame for resp.
func EncodeResponse(resp *Response) []byte {
	return flatten(resp.ID, responseParts(resp))
}

// ReadFrame parses the first frame in b. It returns the frame's id and body
// and the number of bytes consumed. When b holds only part of a frame it
// returns ErrIncomplete and consumes nothing.
func ReadFrame(b []byte) (id uint64, body []byte, n int, err error) {
	if len(b) < headerSize {
		return 0, nil, 0, ErrIncomplete
	}

	id = binary.BigEndian.Uint64(b[0:])
	size := binary.BigEndian.Uint32(b[8:])
	if size > maxFrameSize {
		return 0, nil, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	end := headerSize + int(size)
	if len(b) < end {
		return 0, nil, 0, ErrIncomplete
	}

	return id, b[headerSize:end], end, nil
}

// Decoder reassembles frames from a byte stream delivered in arbitrary
// chunks.
type Decoder struct {
	buf []byte
	off int
}

// Feed appends a chunk of the stream.
func (d *Decoder) Feed(chunk []byte) {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, chunk...)
}

// Next returns the next complete frame, or ErrIncomplete when more bytes are
// needed. The returned body is owned by the caller.
func (d *Decoder) Next() (uint64, []byte, error) {
	id, body, n, err := ReadFrame(d.buf[d.off:])
	if err != nil {
		return 0, nil, err
	}
	d.off += n
	if d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	}

	return id, bytes.Clone(body), nil
}

// Buffered returns the number of bytes held that do not yet form a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// DecodeRequest parses a request body.
func DecodeRequest(id uint64, body []byte) (*Request, error) {
	if len(body) < 12 {
		return nil, fmt.Errorf("%w: request body of %d bytes", ErrMalformed, len(body))
	}

	req := &Request{
		ID:          id,
		InterfaceID: int64(binary.BigEndian.Uint64(body[0:])),
	}

	methodLen := int(binary.BigEndian.Uint32(body[8:]))
	rest := body[12:]
	if methodLen > len(rest) {
		return nil, fmt.Errorf("%w: method length %d exceeds body", ErrMalformed, methodLen)
	}
	req.Method = string(rest[:methodLen])
	rest = rest[methodLen:]

	for len(rest) > 0 {
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: truncated argument length", ErrMalformed)
		}
		argLen := int(binary.BigEndian.Uint32(rest))
		rest = rest[4:]
		if argLen > len(rest) {
			return nil, fmt.Errorf("%w: argument length %d exceeds body", ErrMalformed, argLen)
		}
		req.Args = append(req.Args, rest[:argLen:argLen])
		rest = rest[argLen:]
	}

	return req, nil
}

// DecodeResponse parses a response body.
func DecodeResponse(id uint64, body []byte) (*Response, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: empty response body", ErrMalformed)
	}

	resp := &Response{ID: id}
	switch body[0] {
	case statusOK:
		resp.Payload = body[1:]
	case statusError:
		err, ok := decodeError(body[1:])
		if !ok {
			return nil, fmt.Errorf("%w: undecodable error payload: %v", ErrMalformed, err)
		}
		resp.Err = err
	default:
		return nil, fmt.Errorf("%w: unknown status %d", ErrMalformed, body[0])
	}

	return resp, nil
}

// writeFrame writes one frame to w. Frames up to flattenLimit bytes are
// copied into a single pooled buffer; larger ones are written as a vector.
func writeFrame(w io.Writer, wLock *sync.Mutex, id uint64, parts [][]byte, flattenLimit int) error {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	if size > maxFrameSize {
		return fmt.Errorf("%w: body of %d bytes", ErrFrameTooLarge, size)
	}

	if headerSize+size > flattenLimit {
		return writeChunked(w, wLock, id, parts, size)
	}

	return writeFlat(w, wLock, id, parts, size)
}

// writeChunked uses a vectored write; some operating systems and connection
// types handle it without copying.
func writeChunked(w io.Writer, wLock *sync.Mutex, id uint64, parts [][]byte, size int) error {
	var hdr [headerSize]byte
	putHeader(hdr[:], id, size)

	vec := make([][]byte, 0, 1+len(parts))
	vec = append(vec, hdr[:])
	vec = append(vec, parts...)
	buf := net.Buffers(vec)

	wLock.Lock()
	defer wLock.Unlock()
	n, err := buf.WriteTo(w)
	if err == nil && n != int64(headerSize+size) {
		err = fmt.Errorf("partial write")
	}

	return err
}

// writeFlat joins the header and body into one pooled buffer.
func writeFlat(w io.Writer, wLock *sync.Mutex, id uint64, parts [][]byte, size int) error {
	data := pool.GetBytes(headerSize + size)[:headerSize]
	defer func() { _ = pool.PutBytes(data) }()

	putHeader(data, id, size)
	for _, p := range parts {
		data = append(data, p...)
	}

	wLock.Lock()
	defer wLock.Unlock()
	n, err := w.Write(data)
	if err == nil && n != len(data) {
		err = fmt.Errorf("partial write")
	}

	return err
}

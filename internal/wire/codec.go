package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed means the buffer ended before a field could be fully read.
var ErrMalformed = errors.New("wire: malformed payload")

// ErrUnknownVariant means a tag byte did not match any variant in the
// closed set for protocol version 1.
var ErrUnknownVariant = errors.New("wire: unknown variant")

// encoder builds the deterministic binary encoding used on the wire:
// fixed-width little-endian integers, u32-length-prefixed byte strings,
// one tag byte per variant.
type encoder struct{ buf []byte }

func (e *encoder) u8(v byte) { e.buf = append(e.buf, v) }

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) str(s string) { e.bytes([]byte(s)) }

func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) id(id RequestID) { e.buf = append(e.buf, id[:]...) }

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) u8() (byte, error) {
	if d.off+1 > len(d.buf) {
		return 0, ErrMalformed
	}
	v := d.buf[d.off]
	d.off++
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, ErrMalformed
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if d.off+8 > len(d.buf) {
		return 0, ErrMalformed
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if d.off+int(n) > len(d.buf) {
		return nil, ErrMalformed
	}
	b := make([]byte, n)
	copy(b, d.buf[d.off:d.off+int(n)])
	d.off += int(n)
	return b, nil
}

func (d *decoder) str() (string, error) {
	b, err := d.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) boolean() (bool, error) {
	v, err := d.u8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (d *decoder) id() (RequestID, error) {
	if d.off+16 > len(d.buf) {
		return RequestID{}, ErrMalformed
	}
	var id RequestID
	copy(id[:], d.buf[d.off:d.off+16])
	d.off += 16
	return id, nil
}

func (d *decoder) atEnd() bool { return d.off == len(d.buf) }

// Encode serializes env using the wire's deterministic binary encoding.
func Encode(env Envelope) []byte {
	e := &encoder{}
	e.id(env.ID)
	e.u64(env.DeadlineMillis)
	switch p := env.Payload.(type) {
	case Request:
		e.u8(tagRequest)
		encodeRequestBody(e, p.Body)
	case Response:
		e.u8(tagResponse)
		encodeResponseBody(e, p.Body)
	case Notification:
		e.u8(tagNotification)
		encodeNotificationBody(e, p.Body)
	case Cancel:
		e.u8(tagCancel)
		e.id(p.TargetID)
	}
	return e.buf
}

// Decode deserializes an envelope previously produced by Encode. A tag byte
// outside the closed set yields ErrUnknownVariant, which callers must treat
// as a fatal frame error.
func Decode(b []byte) (Envelope, error) {
	d := &decoder{buf: b}
	id, err := d.id()
	if err != nil {
		return Envelope{}, err
	}
	deadline, err := d.u64()
	if err != nil {
		return Envelope{}, err
	}
	tag, err := d.u8()
	if err != nil {
		return Envelope{}, err
	}
	var payload Payload
	switch tag {
	case tagRequest:
		body, err := decodeRequestBody(d)
		if err != nil {
			return Envelope{}, err
		}
		payload = Request{Body: body}
	case tagResponse:
		body, err := decodeResponseBody(d)
		if err != nil {
			return Envelope{}, err
		}
		payload = Response{Body: body}
	case tagNotification:
		body, err := decodeNotificationBody(d)
		if err != nil {
			return Envelope{}, err
		}
		payload = Notification{Body: body}
	case tagCancel:
		target, err := d.id()
		if err != nil {
			return Envelope{}, err
		}
		payload = Cancel{TargetID: target}
	default:
		return Envelope{}, fmt.Errorf("%w: payload tag %d", ErrUnknownVariant, tag)
	}
	if !d.atEnd() {
		return Envelope{}, fmt.Errorf("%w: trailing bytes", ErrMalformed)
	}
	return Envelope{ID: id, DeadlineMillis: deadline, Payload: payload}, nil
}

func encodeSearchOptions(e *encoder, o SearchOptions) {
	e.boolean(o.CaseSensitive)
	e.boolean(o.WholeWord)
	e.boolean(o.Regex)
	e.str(o.IncludePattern)
	e.str(o.ExcludePattern)
	e.u32(o.MaxResults)
}

func decodeSearchOptions(d *decoder) (SearchOptions, error) {
	var o SearchOptions
	var err error
	if o.CaseSensitive, err = d.boolean(); err != nil {
		return o, err
	}
	if o.WholeWord, err = d.boolean(); err != nil {
		return o, err
	}
	if o.Regex, err = d.boolean(); err != nil {
		return o, err
	}
	if o.IncludePattern, err = d.str(); err != nil {
		return o, err
	}
	if o.ExcludePattern, err = d.str(); err != nil {
		return o, err
	}
	if o.MaxResults, err = d.u32(); err != nil {
		return o, err
	}
	return o, nil
}

func encodeSearchResult(e *encoder, r SearchResult) {
	e.str(r.Path)
	e.u32(r.LineNumber)
	e.u32(r.Column)
	e.str(r.LineText)
	e.str(r.MatchText)
}

func decodeSearchResult(d *decoder) (SearchResult, error) {
	var r SearchResult
	var err error
	if r.Path, err = d.str(); err != nil {
		return r, err
	}
	if r.LineNumber, err = d.u32(); err != nil {
		return r, err
	}
	if r.Column, err = d.u32(); err != nil {
		return r, err
	}
	if r.LineText, err = d.str(); err != nil {
		return r, err
	}
	if r.MatchText, err = d.str(); err != nil {
		return r, err
	}
	return r, nil
}

func encodeRequestBody(e *encoder, body RequestBody) {
	e.u8(body.requestTag())
	switch r := body.(type) {
	case Ping:
	case Sleep:
		e.u64(r.Millis)
	case OpenBuffer:
		e.str(r.Path)
	case SaveBuffer:
		e.str(r.BufferID)
		e.str(r.Content)
	case CloseBuffer:
		e.str(r.BufferID)
	case Search:
		e.str(r.Query)
		encodeSearchOptions(e, r.Options)
	case GetProjectFiles:
		e.str(r.RootPath)
	case LspRequest:
		e.str(r.Server)
		e.str(r.Method)
		e.bytes(r.Params)
	case GetStats:
	}
}

func decodeRequestBody(d *decoder) (RequestBody, error) {
	tag, err := d.u8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case reqPing:
		return Ping{}, nil
	case reqSleep:
		millis, err := d.u64()
		if err != nil {
			return nil, err
		}
		return Sleep{Millis: millis}, nil
	case reqOpenBuffer:
		path, err := d.str()
		if err != nil {
			return nil, err
		}
		return OpenBuffer{Path: path}, nil
	case reqSaveBuffer:
		id, err := d.str()
		if err != nil {
			return nil, err
		}
		content, err := d.str()
		if err != nil {
			return nil, err
		}
		return SaveBuffer{BufferID: id, Content: content}, nil
	case reqCloseBuffer:
		id, err := d.str()
		if err != nil {
			return nil, err
		}
		return CloseBuffer{BufferID: id}, nil
	case reqSearch:
		query, err := d.str()
		if err != nil {
			return nil, err
		}
		opts, err := decodeSearchOptions(d)
		if err != nil {
			return nil, err
		}
		return Search{Query: query, Options: opts}, nil
	case reqGetProjectFiles:
		root, err := d.str()
		if err != nil {
			return nil, err
		}
		return GetProjectFiles{RootPath: root}, nil
	case reqLspRequest:
		server, err := d.str()
		if err != nil {
			return nil, err
		}
		method, err := d.str()
		if err != nil {
			return nil, err
		}
		params, err := d.bytes()
		if err != nil {
			return nil, err
		}
		return LspRequest{Server: server, Method: method, Params: params}, nil
	case reqGetStats:
		return GetStats{}, nil
	default:
		return nil, fmt.Errorf("%w: request tag %d", ErrUnknownVariant, tag)
	}
}

func encodeResponseBody(e *encoder, body ResponseBody) {
	e.u8(body.responseTag())
	switch r := body.(type) {
	case Pong:
	case BufferOpened:
		e.str(r.BufferID)
		e.str(r.Content)
	case BufferSaved:
		e.str(r.BufferID)
	case BufferClosed:
		e.str(r.BufferID)
	case SearchResults:
		e.u32(uint32(len(r.Results)))
		for _, res := range r.Results {
			encodeSearchResult(e, res)
		}
	case ProjectFiles:
		e.u32(uint32(len(r.Files)))
		for _, f := range r.Files {
			e.str(f)
		}
	case LspResponse:
		e.bytes(r.Result)
	case Stats:
		e.u64(r.Cancels)
		e.u64(r.Deadlines)
		e.u64(r.Backpressure)
	case Success:
	case Error:
		e.str(r.Message)
	}
}

func decodeResponseBody(d *decoder) (ResponseBody, error) {
	tag, err := d.u8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case respPong:
		return Pong{}, nil
	case respBufferOpened:
		id, err := d.str()
		if err != nil {
			return nil, err
		}
		content, err := d.str()
		if err != nil {
			return nil, err
		}
		return BufferOpened{BufferID: id, Content: content}, nil
	case respBufferSaved:
		id, err := d.str()
		if err != nil {
			return nil, err
		}
		return BufferSaved{BufferID: id}, nil
	case respBufferClosed:
		id, err := d.str()
		if err != nil {
			return nil, err
		}
		return BufferClosed{BufferID: id}, nil
	case respSearchResults:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		results := make([]SearchResult, 0, n)
		for i := uint32(0); i < n; i++ {
			r, err := decodeSearchResult(d)
			if err != nil {
				return nil, err
			}
			results = append(results, r)
		}
		return SearchResults{Results: results}, nil
	case respProjectFiles:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		files := make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			f, err := d.str()
			if err != nil {
				return nil, err
			}
			files = append(files, f)
		}
		return ProjectFiles{Files: files}, nil
	case respLspResponse:
		result, err := d.bytes()
		if err != nil {
			return nil, err
		}
		return LspResponse{Result: result}, nil
	case respStats:
		cancels, err := d.u64()
		if err != nil {
			return nil, err
		}
		deadlines, err := d.u64()
		if err != nil {
			return nil, err
		}
		backpressure, err := d.u64()
		if err != nil {
			return nil, err
		}
		return Stats{Cancels: cancels, Deadlines: deadlines, Backpressure: backpressure}, nil
	case respSuccess:
		return Success{}, nil
	case respError:
		msg, err := d.str()
		if err != nil {
			return nil, err
		}
		return Error{Message: msg}, nil
	default:
		return nil, fmt.Errorf("%w: response tag %d", ErrUnknownVariant, tag)
	}
}

func encodeFileChangeType(e *encoder, ct FileChangeType) {
	e.u8(ct.fileChangeTag())
	if r, ok := ct.(Renamed); ok {
		e.str(r.OldPath)
		e.str(r.NewPath)
	}
}

func decodeFileChangeType(d *decoder) (FileChangeType, error) {
	tag, err := d.u8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case fcCreated:
		return Created{}, nil
	case fcModified:
		return Modified{}, nil
	case fcDeleted:
		return Deleted{}, nil
	case fcRenamed:
		oldPath, err := d.str()
		if err != nil {
			return nil, err
		}
		newPath, err := d.str()
		if err != nil {
			return nil, err
		}
		return Renamed{OldPath: oldPath, NewPath: newPath}, nil
	default:
		return nil, fmt.Errorf("%w: file change tag %d", ErrUnknownVariant, tag)
	}
}

func encodeTextRange(e *encoder, r TextRange) {
	e.u32(r.StartLine)
	e.u32(r.StartColumn)
	e.u32(r.EndLine)
	e.u32(r.EndColumn)
}

func decodeTextRange(d *decoder) (TextRange, error) {
	var r TextRange
	var err error
	if r.StartLine, err = d.u32(); err != nil {
		return r, err
	}
	if r.StartColumn, err = d.u32(); err != nil {
		return r, err
	}
	if r.EndLine, err = d.u32(); err != nil {
		return r, err
	}
	if r.EndColumn, err = d.u32(); err != nil {
		return r, err
	}
	return r, nil
}

func encodeTextChange(e *encoder, c TextChange) {
	encodeTextRange(e, c.Range)
	e.str(c.NewText)
	e.str(c.OldText)
}

func decodeTextChange(d *decoder) (TextChange, error) {
	var c TextChange
	var err error
	if c.Range, err = decodeTextRange(d); err != nil {
		return c, err
	}
	if c.NewText, err = d.str(); err != nil {
		return c, err
	}
	if c.OldText, err = d.str(); err != nil {
		return c, err
	}
	return c, nil
}

func encodeNotificationBody(e *encoder, body NotificationBody) {
	e.u8(body.notificationTag())
	switch n := body.(type) {
	case BufferChanged:
		e.str(n.BufferID)
		e.u32(uint32(len(n.Changes)))
		for _, c := range n.Changes {
			encodeTextChange(e, c)
		}
	case DiagnosticsUpdate:
		e.str(n.URI)
		e.bytes(n.Diagnostics)
	case FileSystemChanged:
		e.str(n.Path)
		encodeFileChangeType(e, n.ChangeType)
	}
}

func decodeNotificationBody(d *decoder) (NotificationBody, error) {
	tag, err := d.u8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case notifyBufferChanged:
		id, err := d.str()
		if err != nil {
			return nil, err
		}
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		changes := make([]TextChange, 0, n)
		for i := uint32(0); i < n; i++ {
			c, err := decodeTextChange(d)
			if err != nil {
				return nil, err
			}
			changes = append(changes, c)
		}
		return BufferChanged{BufferID: id, Changes: changes}, nil
	case notifyDiagnosticsUpdate:
		uri, err := d.str()
		if err != nil {
			return nil, err
		}
		diags, err := d.bytes()
		if err != nil {
			return nil, err
		}
		return DiagnosticsUpdate{URI: uri, Diagnostics: diags}, nil
	case notifyFileSystemChanged:
		path, err := d.str()
		if err != nil {
			return nil, err
		}
		ct, err := decodeFileChangeType(d)
		if err != nil {
			return nil, err
		}
		return FileSystemChanged{Path: path, ChangeType: ct}, nil
	default:
		return nil, fmt.Errorf("%w: notification tag %d", ErrUnknownVariant, tag)
	}
}

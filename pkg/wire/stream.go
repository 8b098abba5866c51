package wire

import "io"

// StreamSender adapts the write end of a byte stream (an OS pipe, a
// socket) to the RawSender interface.
type StreamSender struct {
	W io.Writer
	// C, when set, is closed with the sender. The write end of a pipe
	// and the pipe itself are often distinct objects.
	C io.Closer
}

var _ RawSender = StreamSender{}

func (s StreamSender) Send(enc Encoder, msg interface{}) error {
	return enc.Encode(s.W, msg)
}

func (s StreamSender) Close() error {
	if s.C != nil {
		return s.C.Close()
	}
	return nil
}

// StreamReceiver adapts the read end of a byte stream to the
// RawReceiver interface.
type StreamReceiver struct {
	R io.Reader
	C io.Closer
}

var _ RawReceiver = StreamReceiver{}

func (r StreamReceiver) Recv(dec Decoder) (interface{}, error) {
	return dec.Decode(r.R)
}

func (r StreamReceiver) Close() error {
	if r.C != nil {
		return r.C.Close()
	}
	return nil
}

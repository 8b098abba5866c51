package wire

import "errors"

var (
	ErrConduitClosed = errors.New("wire: conduit closed")
)

// Raw is a bidirectional raw conduit.
//
// Most users should not use it directly but wrap it
// in a [Sender] and [Receiver] for a better DX.
type Raw struct {
	RawReceiver
	RawSender
}

func (r Raw) Close() error {
	return errors.Join(r.RawReceiver.Close(), r.RawSender.Close())
}

package wire

import "sync"

// LocalConduit is an in-process conduit end backed by a native channel.
// Messages never touch a byte stream: the encoder's ProcessLocal hook
// decides whether they are passed by reference or copied.
type LocalConduit struct {
	data    chan interface{}
	lk      sync.Mutex
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

func NewLocalConduit(bufferSize uint) *LocalConduit {
	return &LocalConduit{
		data:    make(chan interface{}, bufferSize),
		closeCh: make(chan struct{}),
	}
}

// Pipe returns two connected bidirectional conduits, each one reading
// what the other sends. Useful for tests and in-process peers.
func Pipe(bufferSize uint) (Raw, Raw) {
	left := NewLocalConduit(bufferSize)
	right := NewLocalConduit(bufferSize)
	return Raw{RawReceiver: right, RawSender: left},
		Raw{RawReceiver: left, RawSender: right}
}

func (fl *LocalConduit) Recv(_ Decoder) (interface{}, error) {
	elem, ok := <-fl.data
	if !ok {
		return nil, ErrConduitClosed
	}
	return elem, nil
}

func (fl *LocalConduit) Send(encoder Encoder, msg interface{}) error {
	fl.lk.Lock()
	if fl.closed {
		fl.lk.Unlock()
		return ErrConduitClosed
	}
	fl.wg.Add(1)
	defer fl.wg.Done()
	fl.lk.Unlock()

	toSend, err := encoder.ProcessLocal(msg)
	if err != nil {
		return err
	}

	select {
	case fl.data <- toSend:
		return nil
	case <-fl.closeCh:
		return ErrConduitClosed
	}
}

func (fl *LocalConduit) Close() error {
	fl.lk.Lock()
	defer fl.lk.Unlock()
	if fl.closed {
		return nil
	}
	fl.closed = true
	close(fl.closeCh)
	fl.wg.Wait()
	close(fl.data)
	return nil
}

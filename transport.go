package hive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/raskyld/hive/pkg/wire"
)

// Process is one live worker process as seen by the controller: a
// post-message primitive plus message and termination events.
//
// Implementations own the underlying conduit. Messages is closed once
// the conduit fails or the process exits; Done is closed once the exit
// code is known.
type Process interface {
	Post(msg *Message) error
	Messages() <-chan *Message

	Done() <-chan struct{}
	// ExitCode is meaningful once Done is closed.
	ExitCode() int

	// Close releases the conduit. It MUST NOT kill the process; how a
	// worker terminates is the collaborator's business.
	io.Closer
}

// Spawner launches worker processes. The default implementation execs
// the worker command with its stdin/stdout pipes as the message
// conduit; tests substitute in-memory conduits.
type Spawner interface {
	Spawn(command string) (Process, error)
}

// ExecSpawner runs worker commands as child processes. The command is
// whitespace-split into argv; the child's stderr is passed through to
// ours so worker diagnostics stay visible.
type ExecSpawner struct {
	// Env entries are appended to the child environment when set.
	Env []string
}

var _ Spawner = (*ExecSpawner)(nil)

func (sp *ExecSpawner) Spawn(command string) (Process, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty worker command", ErrSpawnFailed)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr
	if len(sp.Env) > 0 {
		cmd.Env = append(os.Environ(), sp.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	proc := newPipeProcess(stdout, stdin)
	go func() {
		err := cmd.Wait()
		code := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		proc.exited(code)
	}()

	return proc, nil
}

// pipeProcess bridges a byte-stream conduit pair to the Process
// surface. The exit code is reported by whoever watches the process.
type pipeProcess struct {
	sender *wire.Sender[*Message]
	recv   *wire.Receiver[*Message]
	msgCh  chan *Message

	closeCh   chan struct{}
	closeOnce sync.Once

	doneCh   chan struct{}
	exitCode int
	exitOnce sync.Once
}

var _ Process = (*pipeProcess)(nil)

func newPipeProcess(r io.Reader, w io.WriteCloser) *pipeProcess {
	p := &pipeProcess{
		sender: wire.NewSender[*Message](
			wire.StreamSender{W: w, C: w},
			wire.NewJsonEncoder(false),
			64,
		),
		recv: wire.NewReceiver[*Message](
			wire.StreamReceiver{R: r},
			wire.NewJsonDecoder[*Message](),
			64,
		),
		msgCh:   make(chan *Message, 64),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	go p.pump()
	return p
}

func (p *pipeProcess) pump() {
	defer close(p.msgCh)
	for {
		msg, err := p.recv.Recv(context.Background())
		if err != nil {
			return
		}
		// Close must be able to stop the pump even when nobody
		// drains the surfacing channel anymore.
		select {
		case p.msgCh <- msg:
		case <-p.closeCh:
			return
		}
	}
}

func (p *pipeProcess) Post(msg *Message) error {
	return p.sender.Send(context.Background(), msg)
}

func (p *pipeProcess) Messages() <-chan *Message {
	return p.msgCh
}

func (p *pipeProcess) Done() <-chan struct{} {
	return p.doneCh
}

func (p *pipeProcess) ExitCode() int {
	return p.exitCode
}

func (p *pipeProcess) exited(code int) {
	p.exitOnce.Do(func() {
		p.exitCode = code
		close(p.doneCh)
	})
}

func (p *pipeProcess) Close() error {
	p.closeOnce.Do(func() { close(p.closeCh) })
	err := p.sender.Close()
	_ = p.recv.Close()
	return err
}

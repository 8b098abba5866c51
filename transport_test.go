package hive

import (
	"context"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raskyld/hive/pkg/wire"
)

func TestPipeProcess_RoundTrip(t *testing.T) {
	// Two OS-pipe-shaped streams, like a child's stdin/stdout.
	toProcR, toProcW := io.Pipe()
	fromProcR, fromProcW := io.Pipe()

	proc := newPipeProcess(fromProcR, toProcW)
	defer proc.Close()

	// The far side of the pipes plays the worker.
	workerIn := wire.NewReceiver[*Message](
		wire.StreamReceiver{R: toProcR, C: toProcR},
		wire.NewJsonDecoder[*Message](),
		4,
	)
	workerOut := wire.NewSender[*Message](
		wire.StreamSender{W: fromProcW, C: fromProcW},
		wire.NewJsonEncoder(false),
		4,
	)
	defer workerIn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sent := &Message{Kind: "job", Sender: "main", Target: "w1", UUID: "m1",
		Payload: Payload{"n": "42"}}
	require.NoError(t, proc.Post(sent))

	got, err := workerIn.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, sent, got)

	reply := &Message{Kind: "job", Sender: "w1", UUID: "m2", ResponseTo: "m1"}
	require.NoError(t, workerOut.Send(ctx, reply))

	select {
	case msg, ok := <-proc.Messages():
		require.True(t, ok)
		require.Equal(t, reply, msg)
	case <-ctx.Done():
		t.Fatal("message never surfaced")
	}

	// Losing the conduit closes the message channel.
	require.NoError(t, workerOut.Close())
	select {
	case _, ok := <-proc.Messages():
		require.False(t, ok)
	case <-ctx.Done():
		t.Fatal("message channel never closed")
	}
}

func TestPipeProcess_CloseWithBacklog(t *testing.T) {
	fromProcR, fromProcW := io.Pipe()
	proc := newPipeProcess(fromProcR, nopWriteCloser{})
	defer fromProcR.Close()

	// Flood the process with more frames than its internal buffers can
	// hold, and drain nothing.
	enc := wire.NewJsonEncoder(false)
	go func() {
		for i := 0; i < 200; i++ {
			if err := enc.Encode(fromProcW, &Message{Kind: "evt", UUID: strconv.Itoa(i)}); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool {
		return len(proc.Messages()) == 64
	}, 5*time.Second, 10*time.Millisecond, "surfacing buffer should fill up")
	// Leave the inner receive buffer a moment to saturate too.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, proc.Close())

	// The undelivered backlog is discarded: only what was already
	// buffered surfaces, then the channel closes instead of holding the
	// pump until somebody drains everything.
	count := 0
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-proc.Messages():
			if !ok {
				require.LessOrEqual(t, count, 66)
				return
			}
			count++
		case <-deadline:
			t.Fatal("message channel never closed")
		}
	}
}

func TestPipeProcess_Exited(t *testing.T) {
	r, w := io.Pipe()
	proc := newPipeProcess(r, nopWriteCloser{})
	defer proc.Close()
	defer w.Close()

	select {
	case <-proc.Done():
		t.Fatal("process should not be done yet")
	default:
	}

	proc.exited(7)
	proc.exited(9) // only the first report wins

	<-proc.Done()
	require.Equal(t, 7, proc.ExitCode())
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

func TestExecSpawner_EmptyCommand(t *testing.T) {
	sp := &ExecSpawner{}
	_, err := sp.Spawn("")
	require.ErrorIs(t, err, ErrSpawnFailed)
	_, err = sp.Spawn("   ")
	require.ErrorIs(t, err, ErrSpawnFailed)
}

func TestExecSpawner_Cat(t *testing.T) {
	// cat echoes our frames back: a handy stand-in for a worker.
	sp := &ExecSpawner{}
	proc, err := sp.Spawn("cat")
	require.NoError(t, err)

	sent := &Message{Kind: "echo", Sender: "main", UUID: "m1"}
	require.NoError(t, proc.Post(sent))

	select {
	case got, ok := <-proc.Messages():
		require.True(t, ok)
		require.Equal(t, sent, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no echo from child")
	}

	// Closing the conduit closes cat's stdin; it exits cleanly.
	require.NoError(t, proc.Close())
	select {
	case <-proc.Done():
		require.Equal(t, 0, proc.ExitCode())
	case <-time.After(5 * time.Second):
		t.Fatal("child never exited")
	}
}

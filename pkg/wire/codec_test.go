package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestBytesCodec_RoundTrip(t *testing.T) {
	codec := NewBytesCodec(false)
	var buf bytes.Buffer

	payload := []byte("hello")
	require.NoError(t, codec.Encode(&buf, payload))

	got, err := codec.Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestBytesCodec_MultiByteVarint(t *testing.T) {
	codec := NewBytesCodec(false)
	var buf bytes.Buffer

	// A frame longer than 127 bytes needs a two-byte length prefix.
	payload := bytes.Repeat([]byte{0xAB}, 300)
	require.NoError(t, codec.Encode(&buf, payload))
	require.Equal(t, 302, buf.Len())

	got, err := codec.Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestBytesCodec_Streamed(t *testing.T) {
	codec := NewBytesCodec(false)
	var buf bytes.Buffer

	frames := [][]byte{
		[]byte("first"),
		{},
		[]byte("third"),
	}
	for _, frame := range frames {
		require.NoError(t, codec.Encode(&buf, frame))
	}
	for _, frame := range frames {
		got, err := codec.Decode(&buf)
		require.NoError(t, err)
		require.Equal(t, frame, got)
	}
}

func TestBytesCodec_LocalCopy(t *testing.T) {
	payload := []byte("mutable")

	passthrough, err := NewBytesCodec(false).ProcessLocal(payload)
	require.NoError(t, err)
	require.Same(t, &payload[0], &passthrough.([]byte)[0], "no copy requested")

	cloned, err := NewBytesCodec(true).ProcessLocal(payload)
	require.NoError(t, err)
	require.Equal(t, payload, cloned)
	require.NotSame(t, &payload[0], &cloned.([]byte)[0], "copy requested")
}

type testEnvelope struct {
	Kind    string            `json:"kind"`
	Payload map[string]string `json:"payload,omitempty"`
}

func TestJsonCodec_RoundTrip(t *testing.T) {
	enc := NewJsonEncoder(false)
	dec := NewJsonDecoder[*testEnvelope]()
	var buf bytes.Buffer

	sent := &testEnvelope{Kind: "job", Payload: map[string]string{"n": "42"}}
	require.NoError(t, enc.Encode(&buf, sent))

	got, err := dec.Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, sent, got)
}

func TestProtoCodec_RoundTrip(t *testing.T) {
	enc := NewProtoCodec[*structpb.Struct](false)
	var buf bytes.Buffer

	sent, err := structpb.NewStruct(map[string]interface{}{
		"kind": "job",
		"n":    42.0,
	})
	require.NoError(t, err)
	require.NoError(t, enc.Encode(&buf, sent))

	got, err := enc.Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, sent.AsMap(), got.(*structpb.Struct).AsMap())
}

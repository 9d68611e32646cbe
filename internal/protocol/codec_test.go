package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.WriteFrame(RegisterClient{
		Type:     TypeRegisterClient,
		ClientID: "c1",
	}))
	require.NoError(t, enc.WriteFrame(ChatRequest{
		Type:      TypeChatRequest,
		RequestID: "r1",
		ClientID:  "c1",
		Text:      "hi",
	}))

	dec := NewDecoder(&buf)

	typ, raw, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, TypeRegisterClient, typ)
	frame, err := DecodeAndValidate(typ, raw)
	require.NoError(t, err)
	rc, ok := frame.(*RegisterClient)
	require.True(t, ok)
	assert.Equal(t, "c1", rc.ClientID)

	typ2, raw2, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, TypeChatRequest, typ2)
	frame2, err := DecodeAndValidate(typ2, raw2)
	require.NoError(t, err)
	cr, ok := frame2.(*ChatRequest)
	require.True(t, ok)
	assert.Equal(t, "hi", cr.Text)

	_, _, err = dec.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestDecodeMalformedFrame(t *testing.T) {
	dec := NewDecoder(bytes.NewBufferString("{not json\n"))
	_, _, err := dec.ReadFrame()
	require.Error(t, err)
}

func TestDecodeAndValidateRejectsUnknownType(t *testing.T) {
	_, err := DecodeAndValidate("bogus", []byte(`{"type":"bogus"}`))
	assert.Error(t, err)
}

func TestDecodeAndValidateRejectsMissingRequiredField(t *testing.T) {
	// chat_request without requestId/clientId/text.
	_, err := DecodeAndValidate(TypeChatRequest, []byte(`{"type":"chat_request"}`))
	assert.Error(t, err)
}

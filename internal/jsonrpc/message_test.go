package jsonrpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncode_Request(t *testing.T) {
	data, err := Encode(NewRequest(3, "tools/list", nil))
	require.NoError(t, err)
	require.Equal(t, `{"jsonrpc":"2.0","id":3,"method":"tools/list","params":{}}`+"\n", string(data))
}

func TestEncode_Notification(t *testing.T) {
	data, err := Encode(NewNotification("initialized", nil))
	require.NoError(t, err)
	require.Equal(t, `{"jsonrpc":"2.0","method":"initialized","params":{}}`+"\n", string(data))
}

func TestDecode_Classification(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		response bool
		id       int64
		hasID    bool
	}{
		{name: "result", raw: `{"jsonrpc":"2.0","id":4,"result":{}}`, response: true, id: 4, hasID: true},
		{name: "error", raw: `{"jsonrpc":"2.0","id":5,"error":{"code":-1,"message":"x"}}`, response: true, id: 5, hasID: true},
		{name: "string id", raw: `{"jsonrpc":"2.0","id":"6","result":1}`, response: true, id: 6, hasID: true},
		{name: "notification", raw: `{"jsonrpc":"2.0","method":"notifications/progress"}`},
		{name: "null id", raw: `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse"}}`},
		{name: "server request", raw: `{"jsonrpc":"2.0","id":9,"method":"roots/list"}`, id: 9, hasID: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			require.Equal(t, tt.response, msg.IsResponse())

			id, ok := msg.IntID()
			require.Equal(t, tt.hasID, ok)

			if ok {
				require.Equal(t, tt.id, id)
			}
		})
	}
}

func TestDecode_ErrorObject(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope","data":{"k":1}}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Error)
	require.Equal(t, int64(-32601), msg.Error.Code)
	require.Equal(t, "nope", msg.Error.Message)
	require.JSONEq(t, `{"k":1}`, string(msg.Error.Data))
}

func TestEncode_ResponseEchoesRawID(t *testing.T) {
	data, err := Encode(NewError([]byte(`"srv-1"`), CodeMethodNotFound, "method not found: roots/list"))
	require.NoError(t, err)
	require.JSONEq(t,
		`{"jsonrpc":"2.0","id":"srv-1","error":{"code":-32601,"message":"method not found: roots/list"}}`,
		string(data))

	data, err = Encode(NewResult([]byte(`7`), nil))
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":{}}`, string(data))
}

package serialization

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/codec"
)

// msgpackHandle configures the codec for round-trip-safe map/slice
// decoding (raw bytes deserialize back to Go strings where possible,
// extension types are preserved). Grounded on the (*codec.MsgpackHandle)
// configuration used by hashicorp/serf's RPC client
// (client/rpc_client.go: codec.MsgpackHandle{RawToString: true, WriteExt: true}).
var msgpackHandle = &codec.MsgpackHandle{
	RawToString: true,
	WriteExt:    true,
}

// msgpackCodec implements Codec using github.com/hashicorp/go-msgpack,
// the same msgpack library hashicorp/serf uses for its RPC wire format.
type msgpackCodec struct{}

func (msgpackCodec) Serialize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Deserialize(data []byte) (interface{}, error) {
	var v interface{}
	dec := codec.NewDecoder(bytes.NewReader(data), msgpackHandle)
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"nativereplay/internal/codec"
)

type container struct {
	Header      wireHeader        `cbor:"header"`
	EventOrder  []uint64          `cbor:"eventOrder"`
	Files       map[string]string `cbor:"files"`
	FunctionIDs map[string]uint64 `cbor:"functionIds"`
	Calls       []wireCall        `cbor:"calls"`
}

type wireHeader struct {
	CompilerID string        `cbor:"compilerId"`
	GlobalEnv  codec.Encoded `cbor:"globalEnv"`
	EntryPoint string        `cbor:"entryPoint"`
}

type wireCall struct {
	_         struct{} `cbor:",toarray"`
	FuncID    uint64
	Stdout    []string
	Args      []codec.Encoded
	Return    codec.Encoded
	Exception codec.Encoded
	AsyncKind uint64
}

// Encode builds a container in the format Parse reads. The calls' FuncID
// fields are written as-is, so they must be ids of functionIDs.
func Encode(t *Trace) ([]byte, error) {
	env, err := codec.Encode(t.Header.GlobalEnv)
	if err != nil {
		return nil, fmt.Errorf("encode globalEnv: %w", err)
	}
	c := container{
		Header: wireHeader{
			CompilerID: t.Header.CompilerID,
			GlobalEnv:  env,
			EntryPoint: t.Header.EntryPoint,
		},
		EventOrder:  t.EventOrder,
		Files:       t.Files,
		FunctionIDs: t.FunctionIDs,
		Calls:       make([]wireCall, len(t.Calls)),
	}
	for i, nc := range t.Calls {
		c.Calls[i] = wireCall{
			FuncID:    nc.FuncID,
			Stdout:    nc.Stdout,
			Args:      nc.Args,
			Return:    nc.Return,
			Exception: nc.Exception,
			AsyncKind: nc.AsyncKind,
		}
	}
	return codec.Marshal(c)
}

// Hash is the sha256 hex digest of raw trace bytes.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

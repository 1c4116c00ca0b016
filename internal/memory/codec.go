package memory

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/ent0n29/ragent/internal/session"
)

const (
	blobRaw  byte = 0x00
	blobZstd byte = 0x01
)

var (
	encMode    cbor.EncMode
	decMode    cbor.DecMode
	zstdWriter *zstd.Encoder
	zstdReader *zstd.Decoder
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("memory: cbor encoder init: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("memory: cbor decoder init: " + err.Error())
	}
	zstdWriter, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("memory: zstd encoder init: " + err.Error())
	}
	zstdReader, err = zstd.NewReader(nil)
	if err != nil {
		panic("memory: zstd decoder init: " + err.Error())
	}
}

// encodeSession produces the blob layout used by the KV backends: one
// header byte followed by deterministic CBOR, optionally zstd-framed.
func encodeSession(s *session.Session, compress bool) ([]byte, error) {
	raw, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if !compress {
		return append([]byte{blobRaw}, raw...), nil
	}
	return zstdWriter.EncodeAll(raw, []byte{blobZstd}), nil
}

func decodeSession(blob []byte) (*session.Session, error) {
	if len(blob) == 0 {
		return nil, errors.New("decode session: empty blob")
	}
	body := blob[1:]
	switch blob[0] {
	case blobRaw:
	case blobZstd:
		var err error
		body, err = zstdReader.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("decode session: zstd: %w", err)
		}
	default:
		return nil, fmt.Errorf("decode session: unknown blob header %#x", blob[0])
	}
	var s session.Session
	if err := decMode.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

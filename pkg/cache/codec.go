package cache

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// compressThreshold is the smallest payload worth compressing. Platform
// responses below it (permission objects, short config files) rarely shrink.
const compressThreshold = 1024

// FieldCipher seals and opens sensitive record fields for storage.
// *sealed.Cipher satisfies it.
type FieldCipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// envelope is the stored form of a Record. Timestamps are Unix nanoseconds.
type envelope struct {
	Key       string `cbor:"1,keyasint"`
	ETag      string `cbor:"2,keyasint"`
	Payload   []byte `cbor:"3,keyasint"`
	Sealed    bool   `cbor:"4,keyasint"`
	CreatedAt int64  `cbor:"5,keyasint"`
	ExpiresAt int64  `cbor:"6,keyasint"`

	// Compressed marks a zstd-compressed payload. Compression happens
	// before sealing, so the flag describes the opened bytes.
	Compressed bool `cbor:"7,keyasint"`
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll and DecodeAll.
var (
	encMode     cbor.EncMode
	decMode     cbor.DecMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// compressPayload returns the zstd form of payload and true, or payload
// unchanged and false when it is small or does not shrink.
func compressPayload(payload []byte) ([]byte, bool) {
	if len(payload) < compressThreshold {
		return payload, false
	}
	compressed := zstdEncoder.EncodeAll(payload, nil)
	if len(compressed) >= len(payload) {
		return payload, false
	}
	return compressed, true
}

// encodeRecord serializes record, compressing large payloads and sealing
// the result when cipher is set.
func encodeRecord(record Record, cipher FieldCipher) ([]byte, error) {
	payload, compressed := compressPayload(record.Payload)
	env := envelope{
		Key:        record.Key,
		ETag:       record.ETag,
		Payload:    payload,
		CreatedAt:  record.CreatedAt.UnixNano(),
		ExpiresAt:  record.ExpiresAt.UnixNano(),
		Compressed: compressed,
	}
	if cipher != nil {
		sealed, err := cipher.Seal(payload)
		if err != nil {
			return nil, fmt.Errorf("seal payload: %w", err)
		}
		env.Payload = sealed
		env.Sealed = true
	}
	return encMode.Marshal(env)
}

// decodeRecord is the inverse of encodeRecord. A sealed envelope cannot be
// read without a cipher.
func decodeRecord(data []byte, cipher FieldCipher) (Record, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	payload := env.Payload
	if env.Sealed {
		if cipher == nil {
			return Record{}, fmt.Errorf("%w: payload is sealed and no cipher is configured", ErrInvalidRecord)
		}
		opened, err := cipher.Open(env.Payload)
		if err != nil {
			return Record{}, fmt.Errorf("%w: open payload: %v", ErrInvalidRecord, err)
		}
		payload = opened
	}
	if env.Compressed {
		decompressed, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return Record{}, fmt.Errorf("%w: zstd decompress: %v", ErrInvalidRecord, err)
		}
		payload = decompressed
	}

	return Record{
		Key:       env.Key,
		ETag:      env.ETag,
		Payload:   payload,
		CreatedAt: time.Unix(0, env.CreatedAt),
		ExpiresAt: time.Unix(0, env.ExpiresAt),
	}, nil
}

// Package codec compresses serialized game state before it is stored.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var ErrUnknownCodec = errors.New("unknown codec")

// Codec is a pure, lossless transform: Decode(Encode(s)) == s.
type Codec interface {
	Name() string
	Encode(s string) (string, error)
	Decode(s string) (string, error)
}

const (
	NameZstd     = "zstd"
	NameIdentity = "identity"
)

func New(name string) (Codec, error) {
	switch name {
	case NameZstd, "":
		return NewZstd()
	case NameIdentity:
		return Identity{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Identity stores payloads as-is.
type Identity struct{}

func (Identity) Name() string                    { return NameIdentity }
func (Identity) Encode(s string) (string, error) { return s, nil }
func (Identity) Decode(s string) (string, error) { return s, nil }

// Zstd compresses with zstandard and wraps the frame in base64 so the result
// is a plain string value in the store. Safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Name() string { return NameZstd }

func (z *Zstd) Encode(s string) (string, error) {
	return base64.StdEncoding.EncodeToString(z.enc.EncodeAll([]byte(s), nil)), nil
}

func (z *Zstd) Decode(s string) (string, error) {
	frame, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	out, err := z.dec.DecodeAll(frame, nil)
	if err != nil {
		return "", fmt.Errorf("decompress payload: %w", err)
	}
	return string(out), nil
}

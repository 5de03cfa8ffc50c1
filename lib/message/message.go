// Package message holds the outbound protocol message carried from the
// runtime to the host. The payload is an opaque serialized protobuf message.
package message

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned for bytes that are not valid protobuf wire format.
var ErrMalformed = errors.New("malformed protocol message")

// Outbound is one serialized message destined for the host. It has no
// identity beyond its position in the outbound channel.
type Outbound struct {
	payload []byte
}

// ParseOutbound copies buf and checks that it is well-formed protobuf wire
// format. The caller keeps ownership of buf.
func ParseOutbound(buf []byte) (Outbound, error) {
	if err := validate(buf); err != nil {
		return Outbound{}, err
	}
	payload := make([]byte, len(buf))
	copy(payload, buf)
	return Outbound{payload: payload}, nil
}

// FromBytes wraps payload without validation or copy. The caller must not
// modify payload afterwards.
func FromBytes(payload []byte) Outbound {
	return Outbound{payload: payload}
}

// Bytes returns the serialized payload. It must not be modified.
func (o Outbound) Bytes() []byte {
	return o.payload
}

func (o Outbound) Len() int {
	return len(o.payload)
}

func validate(b []byte) error {
	for offset := 0; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: bad tag at offset %d: %v", ErrMalformed, offset, protowire.ParseError(n))
		}
		offset += n
		b = b[n:]

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return fmt.Errorf("%w: bad value for field %d at offset %d: %v", ErrMalformed, num, offset, protowire.ParseError(n))
		}
		offset += n
		b = b[n:]
	}
	return nil
}

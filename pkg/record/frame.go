package record

import "github.com/streamkeep/broker/pkg/protocol"

// EncodedSize returns the total wire size of the batch, including the
// base_offset and batch_length envelope fields.
func (d Deflated) EncodedSize() int {
	return 8 + 4 + int(d.BatchLength)
}

// Frame is a sequence of deflated batches as returned by a fetch or
// submitted by a producer.
type Frame struct {
	Batches []Deflated
}

// Encode serializes every batch in the frame back to back; there is no
// frame-level length prefix here; the outer wire framing that maps this
// to request/response bodies is an external concern.
func (f Frame) Encode(e *protocol.Encoder) {
	for _, b := range f.Batches {
		b.Encode(e)
	}
}

// DecodeFrame decodes batches from d until it is exhausted.
func DecodeFrame(d *protocol.Decoder) (Frame, error) {
	var f Frame
	for d.Remaining() > 0 {
		b, err := DecodeDeflated(d)
		if err != nil {
			return Frame{}, err
		}
		f.Batches = append(f.Batches, b)
	}
	return f, nil
}

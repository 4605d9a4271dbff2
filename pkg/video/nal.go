package video

import "bytes"

// H264 NAL unit types.
const (
	nalIDR = 5
	nalSPS = 7
)

// maxGroupBytes caps a buffered keyframe group.
const maxGroupBytes = 4 << 20

var annexBStart = []byte{0x00, 0x00, 0x01}

// accessUnits buffers Annex-B NAL units from the most recent SPS onward so
// that every submitted chunk is independently decodable.
type accessUnits struct {
	buf      bytes.Buffer
	keyframe bool
}

func (a *accessUnits) write(annexB []byte) {
	if len(annexB) == 0 {
		return
	}
	for _, t := range nalTypes(annexB) {
		if t == nalSPS {
			a.buf.Reset()
			a.keyframe = false
		}
		if t == nalIDR {
			a.keyframe = true
		}
	}
	if a.buf.Len()+len(annexB) > maxGroupBytes {
		a.buf.Reset()
		a.keyframe = false
		return
	}
	a.buf.Write(annexB)
}

func (a *accessUnits) hasKeyframe() bool { return a.keyframe }

func (a *accessUnits) bytes() []byte {
	out := make([]byte, a.buf.Len())
	copy(out, a.buf.Bytes())
	return out
}

// nalTypes returns the type of every NAL unit in an Annex-B byte stream.
func nalTypes(stream []byte) []int {
	var types []int
	for {
		i := bytes.Index(stream, annexBStart)
		if i < 0 || i+3 >= len(stream) {
			return types
		}
		stream = stream[i+3:]
		types = append(types, int(stream[0]&0x1F))
	}
}

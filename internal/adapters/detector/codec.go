package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/okian/facefx/internal/domain/model"
)

// maxMessage bounds a single framed message.
const maxMessage = 64 << 20

// request is one frame sent to the detector.
type request struct {
	Seq    uint64 `json:"seq" msgpack:"seq"`
	Width  int    `json:"width" msgpack:"width"`
	Height int    `json:"height" msgpack:"height"`
	Format string `json:"format" msgpack:"format"`
	Data   []byte `json:"data" msgpack:"data"`
}

// response is one message from the detector: a ready notice or a frame result.
type response struct {
	Ready bool
	Seq   uint64
	Err   string
	Faces []model.Detection
}

// Codec frames requests and responses on the process pipes.
type Codec interface {
	Name() string
	WriteRequest(w io.Writer, req request) error
	// ReadResponse returns io.EOF at end of stream. Errors wrapping
	// errMalformed leave the stream usable.
	ReadResponse(r *bufio.Reader) (response, error)
}

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "jsonl":
		return jsonlCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// jsonlCodec writes one JSON object per line; image bytes are base64.
type jsonlCodec struct{}

func (jsonlCodec) Name() string { return "jsonl" }

func (jsonlCodec) WriteRequest(w io.Writer, req request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

func (jsonlCodec) ReadResponse(r *bufio.Reader) (response, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && (err != io.EOF || len(line) == 0) {
		return response{}, err
	}
	if !gjson.ValidBytes(line) {
		return response{}, fmt.Errorf("%w: %.64q", errMalformed, line)
	}
	doc := gjson.ParseBytes(line)
	if !doc.IsObject() {
		return response{}, fmt.Errorf("%w: not an object", errMalformed)
	}
	resp := response{
		Ready: doc.Get("ready").Bool(),
		Seq:   doc.Get("seq").Uint(),
		Err:   doc.Get("error").String(),
	}
	doc.Get("faces").ForEach(func(_, face gjson.Result) bool {
		resp.Faces = append(resp.Faces, parseFace(face))
		return true
	})
	return resp, nil
}

func parseFace(face gjson.Result) model.Detection {
	det := model.Detection{Confidence: face.Get("confidence").Float()}
	face.Get("landmarks").ForEach(func(_, pt gjson.Result) bool {
		if pt.IsObject() {
			v := pt.Get("visibility")
			det.Landmarks = append(det.Landmarks, model.Landmark{
				X:          pt.Get("x").Float(),
				Y:          pt.Get("y").Float(),
				Z:          pt.Get("z").Float(),
				Visibility: visibilityOr(v.Exists(), v.Float()),
			})
			return true
		}
		arr := pt.Array()
		vals := make([]float64, len(arr))
		for i := range arr {
			vals[i] = arr[i].Float()
		}
		det.Landmarks = append(det.Landmarks, landmarkFromTuple(vals))
		return true
	})
	if box := face.Get("box"); box.IsObject() {
		det.Box = &model.FaceBox{
			X: box.Get("x").Float(),
			Y: box.Get("y").Float(),
			W: box.Get("w").Float(),
			H: box.Get("h").Float(),
		}
	}
	return det
}

// msgpackCodec frames each message with a 4-byte big-endian length prefix.
type msgpackCodec struct{}

type wireBox struct {
	X float64 `msgpack:"x"`
	Y float64 `msgpack:"y"`
	W float64 `msgpack:"w"`
	H float64 `msgpack:"h"`
}

type wireFace struct {
	Confidence float64     `msgpack:"confidence"`
	Landmarks  [][]float64 `msgpack:"landmarks"`
	Box        *wireBox    `msgpack:"box"`
}

type wireResponse struct {
	Ready bool       `msgpack:"ready"`
	Seq   uint64     `msgpack:"seq"`
	Error string     `msgpack:"error"`
	Faces []wireFace `msgpack:"faces"`
}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) WriteRequest(w io.Writer, req request) error {
	b, err := msgpack.Marshal(req)
	if err != nil {
		return err
	}
	frame := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(frame, uint32(len(b)))
	copy(frame[4:], b)
	_, err = w.Write(frame)
	return err
}

func (msgpackCodec) ReadResponse(r *bufio.Reader) (response, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return response{}, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessage {
		return response{}, fmt.Errorf("message of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return response{}, err
	}
	var wire wireResponse
	if err := msgpack.Unmarshal(body, &wire); err != nil {
		return response{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	resp := response{Ready: wire.Ready, Seq: wire.Seq, Err: wire.Error}
	for _, f := range wire.Faces {
		det := model.Detection{Confidence: f.Confidence}
		for _, pt := range f.Landmarks {
			det.Landmarks = append(det.Landmarks, landmarkFromTuple(pt))
		}
		if f.Box != nil {
			det.Box = &model.FaceBox{X: f.Box.X, Y: f.Box.Y, W: f.Box.W, H: f.Box.H}
		}
		resp.Faces = append(resp.Faces, det)
	}
	return resp, nil
}

// landmarkFromTuple reads [x, y, z, visibility]; a missing visibility means present.
func landmarkFromTuple(v []float64) model.Landmark {
	var l model.Landmark
	if len(v) > 0 {
		l.X = v[0]
	}
	if len(v) > 1 {
		l.Y = v[1]
	}
	if len(v) > 2 {
		l.Z = v[2]
	}
	l.Visibility = visibilityOr(len(v) > 3, at(v, 3))
	return l
}

func visibilityOr(ok bool, v float64) float64 {
	if !ok {
		return 1
	}
	return v
}

func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

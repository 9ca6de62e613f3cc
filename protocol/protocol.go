package protocol

import (
	"encoding/json"
	"io"
	"strconv"
)

type Action string

const (
	ActionCapture Action = "CAPTURE"
	ActionStatus  Action = "STATUS"
)

type Req struct {
	Action Action            `json:"action"`
	Params map[string]string `json:"params"`
}

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

type Res struct {
	Status Status            `json:"status"`
	Error  string            `json:"error"`
	Extras map[string]string `json:"extras"`
}

func ReadReq(r io.Reader) (*Req, error) {
	var req Req
	err := json.NewDecoder(r).Decode(&req)
	return &req, err
}

func ReadRes(r io.Reader) (*Res, error) {
	var res Res
	err := json.NewDecoder(r).Decode(&res)
	return &res, err
}

func WriteReq(w io.Writer, action Action) error {
	return json.NewEncoder(w).Encode(&Req{Action: action})
}

func WriteSuccessRes(w io.Writer, extras map[string]string) error {
	res := Res{
		Status: StatusSuccess,
		Extras: extras,
	}
	return json.NewEncoder(w).Encode(&res)
}

func WriteErrorRes(w io.Writer, err error) error {
	res := Res{
		Status: StatusError,
		Error:  err.Error(),
	}
	return json.NewEncoder(w).Encode(&res)
}

// CaptureResult is what a successful CAPTURE reports.
type CaptureResult struct {
	Path   string
	Width  int
	Height int
	Bytes  int
	Op     string
}

func (c CaptureResult) Extras() map[string]string {
	return map[string]string{
		"path":   c.Path,
		"width":  strconv.Itoa(c.Width),
		"height": strconv.Itoa(c.Height),
		"bytes":  strconv.Itoa(c.Bytes),
		"op":     c.Op,
	}
}

// ToCaptureResult reads the extras of a CAPTURE response. Missing numbers
// read as zero.
func ToCaptureResult(res *Res) CaptureResult {
	atoi := func(key string) int {
		n, _ := strconv.Atoi(res.Extras[key])
		return n
	}
	return CaptureResult{
		Path:   res.Extras["path"],
		Width:  atoi("width"),
		Height: atoi("height"),
		Bytes:  atoi("bytes"),
		Op:     res.Extras["op"],
	}
}

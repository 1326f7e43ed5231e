package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CallbackState is the provider-reported outcome of a generation task.
type CallbackState string

const (
	CallbackSuccess CallbackState = "success"
	CallbackFailed  CallbackState = "failed"
	// CallbackPending covers intermediate states that are acknowledged
	// without touching the job.
	CallbackPending CallbackState = "pending"
)

// Outcome is the provider-neutral form of an image or video callback.
type Outcome struct {
	TaskID      string
	State       CallbackState
	ResultURL   string
	FailCode    string
	FailMessage string
}

// StringList decodes either a JSON array of strings, a JSON-encoded array
// inside a string, or a single string.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if b[0] == '[' {
		var arr []string
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(s), &arr); err != nil {
			return err
		}
		*l = arr
		return nil
	}
	if s == "" {
		*l = nil
		return nil
	}
	*l = []string{s}
	return nil
}

// First returns the first non-empty entry.
func (l StringList) First() string {
	for _, s := range l {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return ""
}

// LooseString accepts a JSON string or number.
type LooseString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *LooseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = LooseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = LooseString(n.String())
	return nil
}

// ImageCallback is the wire shape of an image task callback.
type ImageCallback struct {
	Code *int   `json:"code,omitempty"`
	Msg  string `json:"msg,omitempty"`
	Data struct {
		TaskID     string      `json:"taskId" validate:"required"`
		State      string      `json:"state"`
		ResultJSON string      `json:"resultJson,omitempty"`
		FailCode   LooseString `json:"failCode,omitempty"`
		FailMsg    string      `json:"failMsg,omitempty"`
	} `json:"data"`
}

// imageResult is the document carried JSON-encoded in resultJson.
type imageResult struct {
	ResultURLs StringList `json:"resultUrls"`
	ResultURL  string     `json:"resultUrl"`
	URL        string     `json:"url"`
}

// VideoCallback is the wire shape of a video task callback. Success is code == 200.
type VideoCallback struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data struct {
		TaskID string `json:"taskId" validate:"required"`
		Info   *struct {
			ResultURLs StringList `json:"resultUrls"`
		} `json:"info,omitempty"`
	} `json:"data"`
}

// ParseImageCallback decodes and normalises an image callback body.
func ParseImageCallback(body []byte) (Outcome, error) {
	var cb ImageCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	cb.Data.TaskID = strings.TrimSpace(cb.Data.TaskID)
	if err := validateShape(cb); err != nil {
		return Outcome{}, err
	}
	return cb.Outcome()
}

// Outcome maps the callback to a provider-neutral Outcome.
func (cb ImageCallback) Outcome() (Outcome, error) {
	o := Outcome{TaskID: cb.Data.TaskID}
	switch strings.ToLower(strings.TrimSpace(cb.Data.State)) {
	case "success":
		o.State = CallbackSuccess
		u, err := rankedResultURL(cb.Data.ResultJSON)
		if err != nil {
			return Outcome{}, err
		}
		o.ResultURL = u
	case "failed", "fail":
		o.State = CallbackFailed
		o.FailCode = string(cb.Data.FailCode)
		o.FailMessage = cb.Data.FailMsg
	default:
		o.State = CallbackPending
	}
	return o, nil
}

// rankedResultURL picks resultUrls[0], then resultUrl, then url.
func rankedResultURL(resultJSON string) (string, error) {
	if strings.TrimSpace(resultJSON) == "" {
		return "", ErrNoResultURL
	}
	var r imageResult
	if err := json.Unmarshal([]byte(resultJSON), &r); err != nil {
		return "", fmt.Errorf("%w: resultJson: %v", ErrMalformedPayload, err)
	}
	for _, candidate := range []string{r.ResultURLs.First(), r.ResultURL, r.URL} {
		if c := strings.TrimSpace(candidate); c != "" {
			return c, nil
		}
	}
	return "", ErrNoResultURL
}

// ParseVideoCallback decodes and normalises a video callback body.
func ParseVideoCallback(body []byte) (Outcome, error) {
	var cb VideoCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	cb.Data.TaskID = strings.TrimSpace(cb.Data.TaskID)
	if err := validateShape(cb); err != nil {
		return Outcome{}, err
	}
	return cb.Outcome()
}

// Outcome maps the callback to a provider-neutral Outcome.
func (cb VideoCallback) Outcome() (Outcome, error) {
	o := Outcome{TaskID: cb.Data.TaskID}
	if cb.Code != 200 {
		o.State = CallbackFailed
		o.FailCode = strconv.Itoa(cb.Code)
		o.FailMessage = cb.Msg
		return o, nil
	}
	o.State = CallbackSuccess
	if cb.Data.Info != nil {
		o.ResultURL = cb.Data.Info.ResultURLs.First()
	}
	if o.ResultURL == "" {
		return Outcome{}, ErrNoResultURL
	}
	return o, nil
}

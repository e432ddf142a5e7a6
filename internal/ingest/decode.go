package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"netwatch-agent/internal/model"
)

var ErrMalformedEvent = errors.New("malformed worker event")

const defaultLabel = "unknown"

type wireEvent struct {
	Iface     *string `json:"iface"`
	Interface *string `json:"interface"`
	Anomaly   *bool   `json:"anomaly"`
	IsAnomaly *bool   `json:"is_anomaly"`
	Label     *string `json:"label"`
}

// Decode parses one worker output line. A line holding a JSON string whose
// content is itself a JSON object is unwrapped once.
func Decode(line string) (model.AnomalyEvent, error) {
	raw := bytes.TrimSpace([]byte(line))
	if len(raw) == 0 {
		return model.AnomalyEvent{}, fmt.Errorf("%w: empty line", ErrMalformedEvent)
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return model.AnomalyEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		raw = bytes.TrimSpace([]byte(inner))
	}
	if len(raw) == 0 || raw[0] != '{' {
		return model.AnomalyEvent{}, fmt.Errorf("%w: not an object", ErrMalformedEvent)
	}

	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.AnomalyEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	iface := firstString(w.Iface, w.Interface)
	if iface == "" {
		return model.AnomalyEvent{}, fmt.Errorf("%w: missing interface", ErrMalformedEvent)
	}
	flag := w.Anomaly
	if flag == nil {
		flag = w.IsAnomaly
	}
	if flag == nil {
		return model.AnomalyEvent{}, fmt.Errorf("%w: missing anomaly flag", ErrMalformedEvent)
	}

	label := defaultLabel
	if w.Label != nil && strings.TrimSpace(*w.Label) != "" {
		label = strings.TrimSpace(*w.Label)
	}
	return model.AnomalyEvent{Interface: iface, IsAnomalous: *flag, Label: label}, nil
}

func firstString(values ...*string) string {
	for _, v := range values {
		if v == nil {
			continue
		}
		if s := strings.TrimSpace(*v); s != "" {
			return s
		}
	}
	return ""
}

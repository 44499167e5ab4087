package analysis

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind is a failure class from the fixed taxonomy.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindInvalidImage Kind = "invalid_image"
	KindAPI          Kind = "api_error"
	KindParse        Kind = "parse_error"
	KindServer       Kind = "server_error"
	KindUnknown      Kind = "unknown_error"
)

// Valid reports whether k belongs to the taxonomy.
func (k Kind) Valid() bool {
	switch k {
	case KindInvalidInput, KindInvalidImage, KindAPI, KindParse, KindServer, KindUnknown:
		return true
	}
	return false
}

// Reason refines a Kind for message selection; api_error covers both network
// and timeout failures, which read differently to the user.
type Reason string

const (
	ReasonInput   Reason = "input"
	ReasonImage   Reason = "image"
	ReasonNetwork Reason = "network"
	ReasonTimeout Reason = "timeout"
	ReasonConfig  Reason = "config"
	ReasonParse   Reason = "parse"
	ReasonServer  Reason = "server"
	ReasonUnknown Reason = "unknown"
)

// Classification is the outcome of Classify.
type Classification struct {
	Kind   Kind
	Reason Reason
}

// Classifier is implemented by errors that know their own class. An empty Kind
// defers to the message heuristics.
type Classifier interface {
	Classification() Classification
}

type heuristic struct {
	needles []string
	class   Classification
}

// Priority order matters: the first matching entry wins. Chinese needles match
// the messages the analysis service emits.
var heuristics = []heuristic{
	{[]string{"network", "connection", "connect:", "fetch", "dial", "refused", "no such host", "网络", "连接"}, Classification{KindAPI, ReasonNetwork}},
	{[]string{"timeout", "timed out", "deadline exceeded", "超时"}, Classification{KindAPI, ReasonTimeout}},
	{[]string{"image", "decode", "图片"}, Classification{KindInvalidImage, ReasonImage}},
	{[]string{"parse", "unmarshal", "json", "解析"}, Classification{KindParse, ReasonParse}},
	{[]string{"server", "http 5", "服务器"}, Classification{KindServer, ReasonServer}},
}

// Classify maps an arbitrary error onto the taxonomy. Typed errors are consulted
// first, then context and net errors, then the substring heuristics over the lowercased message, first match
// wins. Anything else is unknown_error.
func Classify(err error) Classification {
	if err == nil {
		return Classification{KindUnknown, ReasonUnknown}
	}

	var c Classifier
	if errors.As(err, &c) {
		if cl := c.Classification(); cl.Kind.Valid() {
			return cl
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{KindAPI, ReasonTimeout}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{KindAPI, ReasonNetwork}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Classification{KindAPI, ReasonTimeout}
		}
		return Classification{KindAPI, ReasonNetwork}
	}

	msg := strings.ToLower(err.Error())
	for _, h := range heuristics {
		for _, needle := range h.needles {
			if strings.Contains(msg, needle) {
				return h.class
			}
		}
	}
	return Classification{KindUnknown, ReasonUnknown}
}

// Package stream hands response bodies to consumers through a shared
// byte pool. The handler on the IO actor is the pool's only writer;
// consumers read the chunks they are told about and acknowledge each one,
// which is what lets the handler reuse the space.
package stream

import (
	"time"

	"github.com/unkn0wn-root/resload/internal/resource"
	"github.com/unkn0wn-root/resload/internal/sharedbuf"
)

// Acker receives chunk acknowledgements. Ack may be called from any
// goroutine; each call releases the oldest unacknowledged chunk.
type Acker interface {
	Ack()
}

// Sink is the consumer side of a streamed response. Calls arrive on the
// IO actor in checkpoint order and must not block. An error means the
// consumer is gone and the request should stop.
type Sink interface {
	Bind(a Acker)
	ResponseStarted(head resource.FrozenHead) error
	Redirected(rd *resource.Redirect, head resource.FrozenHead) error
	SetDataBuffer(view sharedbuf.View) error
	DataReceived(d DataReceived) error
	Completed(status resource.Status)
}

// DataReceived announces a chunk of the shared buffer.
type DataReceived struct {
	Offset        int
	Length        int
	EncodedLength int
}

type MessageType string

const (
	MessageResponseStarted MessageType = "response"
	MessageRedirected      MessageType = "redirect"
	MessageDataBuffer      MessageType = "buffer"
	MessageData            MessageType = "data"
	MessageCompleted       MessageType = "completed"
	MessageAck             MessageType = "ack"
)

// Message is the serialized form of a sink call.
type Message struct {
	Type          MessageType `json:"type"`
	At            time.Time   `json:"at"`
	StatusCode    int         `json:"status_code,omitempty"`
	Mime          string      `json:"mime,omitempty"`
	Charset       string      `json:"charset,omitempty"`
	Length        int64       `json:"length,omitempty"`
	URL           string      `json:"url,omitempty"`
	Offset        int         `json:"offset,omitempty"`
	Size          int         `json:"size,omitempty"`
	EncodedLength int         `json:"encoded_length,omitempty"`
	Data          []byte      `json:"data,omitempty"`
	Status        string      `json:"status,omitempty"`
	NetError      int         `json:"net_error,omitempty"`
}

func responseMessage(head resource.FrozenHead) Message {
	return Message{
		Type:       MessageResponseStarted,
		At:         time.Now(),
		StatusCode: head.StatusCode(),
		Mime:       head.MimeType(),
		Charset:    head.Charset(),
		Length:     head.Length(),
	}
}

func redirectMessage(rd *resource.Redirect, head resource.FrozenHead) Message {
	msg := Message{Type: MessageRedirected, At: time.Now(), StatusCode: head.StatusCode()}
	if rd != nil && rd.NewURL != nil {
		msg.URL = rd.NewURL.String()
	}
	return msg
}

func dataMessage(d DataReceived) Message {
	return Message{
		Type:          MessageData,
		At:            time.Now(),
		Offset:        d.Offset,
		Size:          d.Length,
		EncodedLength: d.EncodedLength,
	}
}

func completedMessage(status resource.Status) Message {
	return Message{
		Type:     MessageCompleted,
		At:       time.Now(),
		Status:   status.Kind.String(),
		NetError: int(status.Code),
	}
}

// StatusOf rebuilds the status carried by a completed message.
func StatusOf(msg Message) resource.Status {
	code := resource.NetError(msg.NetError)
	switch msg.Status {
	case resource.StatusSuccess.String():
		return resource.Success()
	case resource.StatusCanceled.String():
		return resource.Canceled(code)
	case resource.StatusAborted.String():
		return resource.Status{Kind: resource.StatusAborted, Code: code}
	default:
		return resource.Failed(code)
	}
}

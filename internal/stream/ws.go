package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/resource"
	"github.com/unkn0wn-root/resload/internal/sharedbuf"
)

// Chunks travel base64 encoded inside JSON frames.
const wsReadLimit = 1 << 20

const closeWait = 5 * time.Second

// WSSink ships sink calls to a remote consumer over a websocket. Chunk
// bytes are copied out of the shared view when the frame is written; the
// remote side acknowledges each data frame.
type WSSink struct {
	conn   *websocket.Conn
	outbox *mailbox
	log    *ringBuffer

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	acker     Acker
	view      sharedbuf.View
	err       error
	completed bool

	readerDone chan struct{}
	done       chan struct{}
}

// DialSink connects to a consumer served by ServeConsumer.
func DialSink(ctx context.Context, rawURL string) (*WSSink, error) {
	conn, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeConsumer, err, "dial consumer %s", rawURL)
	}
	return NewWSSink(conn), nil
}

// NewWSSink takes ownership of conn.
func NewWSSink(conn *websocket.Conn) *WSSink {
	conn.SetReadLimit(wsReadLimit)
	ctx, cancel := context.WithCancel(context.Background())
	s := &WSSink{
		conn:       conn,
		outbox:     newMailbox(),
		log:        newRingBuffer(recentMessages),
		ctx:        ctx,
		cancel:     cancel,
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.readAcks()
	go s.writeLoop()
	return s
}

func (s *WSSink) Bind(a Acker) {
	s.mu.Lock()
	s.acker = a
	s.mu.Unlock()
}

func (s *WSSink) ResponseStarted(head resource.FrozenHead) error {
	return s.send(responseMessage(head))
}

func (s *WSSink) Redirected(rd *resource.Redirect, head resource.FrozenHead) error {
	return s.send(redirectMessage(rd, head))
}

func (s *WSSink) SetDataBuffer(view sharedbuf.View) error {
	s.mu.Lock()
	s.view = view
	s.mu.Unlock()
	return s.send(Message{Type: MessageDataBuffer, At: time.Now(), Size: view.Len()})
}

func (s *WSSink) DataReceived(d DataReceived) error {
	return s.send(dataMessage(d))
}

func (s *WSSink) Completed(status resource.Status) {
	s.mu.Lock()
	s.completed = true
	s.mu.Unlock()
	s.send(completedMessage(status))
	s.outbox.close()
}

// Done is closed once the connection is shut down.
func (s *WSSink) Done() <-chan struct{} { return s.done }

func (s *WSSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Recent returns the latest frames written, oldest first.
func (s *WSSink) Recent() []Message { return s.log.snapshot() }

func (s *WSSink) send(msg Message) error {
	if err := s.Err(); err != nil {
		return err
	}
	if !s.outbox.push(msg) {
		return errdef.New(errdef.CodeConsumer, "websocket sink already completed")
	}
	return nil
}

func (s *WSSink) writeLoop() {
	defer close(s.done)
	defer s.cancel()
	for {
		msg, ok := s.outbox.next(s.ctx.Done())
		if !ok {
			break
		}
		if msg.Type == MessageData {
			s.mu.Lock()
			view := s.view
			s.mu.Unlock()
			data, err := view.Copy(msg.Offset, msg.Size)
			if err != nil {
				s.fail(err)
				break
			}
			msg.Data = data
		}
		if err := wsjson.Write(s.ctx, s.conn, msg); err != nil {
			s.fail(errdef.Wrap(errdef.CodeConsumer, err, "write frame"))
			break
		}
		s.log.append(msg)
	}

	// Let the remote side drain its acks and close first.
	select {
	case <-s.readerDone:
	case <-time.After(closeWait):
	}
	s.conn.Close(websocket.StatusNormalClosure, "completed")
}

func (s *WSSink) readAcks() {
	defer close(s.readerDone)
	for {
		var msg Message
		if err := wsjson.Read(s.ctx, s.conn, &msg); err != nil {
			s.mu.Lock()
			completed := s.completed
			s.mu.Unlock()
			if !completed && websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				s.fail(errdef.Wrap(errdef.CodeConsumer, err, "read ack"))
			}
			return
		}
		if msg.Type != MessageAck {
			continue
		}
		s.mu.Lock()
		acker := s.acker
		s.mu.Unlock()
		if acker != nil {
			acker.Ack()
		}
	}
}

func (s *WSSink) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.outbox.close()
	s.cancel()
}

// ServeConsumer accepts websocket sinks and writes every body it receives
// to out. onDone, if set, gets each completion frame.
func ServeConsumer(out io.Writer, onDone func(Message), logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	var mu sync.Mutex
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Printf("consumer: accept: %v", err)
			return
		}
		conn.SetReadLimit(wsReadLimit)
		ctx := r.Context()
		for {
			var msg Message
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					logger.Printf("consumer: read: %v", err)
				}
				conn.Close(websocket.StatusInternalError, "read failed")
				return
			}
			switch msg.Type {
			case MessageData:
				mu.Lock()
				_, werr := out.Write(msg.Data)
				mu.Unlock()
				if werr != nil {
					logger.Printf("consumer: write: %v", werr)
					conn.Close(websocket.StatusInternalError, "write failed")
					return
				}
				if err := wsjson.Write(ctx, conn, Message{Type: MessageAck, At: time.Now()}); err != nil {
					logger.Printf("consumer: ack: %v", err)
					return
				}
			case MessageCompleted:
				if onDone != nil {
					onDone(msg)
				}
				conn.Close(websocket.StatusNormalClosure, "completed")
				return
			}
		}
	})
}

package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/atinylittleshell/autotab/pkg/protocol"
	"go.uber.org/zap"
)

// DeliverFunc receives pushed COMPLETION_RECEIVED messages.
type DeliverFunc func(protocol.Response)

// Local is an in-process transport. Send never blocks on the completion.
type Local struct {
	coordinator *Coordinator
	callerID    string
	deliver     DeliverFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLocal(coordinator *Coordinator, callerID string, deliver DeliverFunc) *Local {
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		coordinator: coordinator,
		callerID:    callerID,
		deliver:     deliver,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (l *Local) Send(req protocol.Request) error {
	if err := l.ctx.Err(); err != nil {
		return fmt.Errorf("transport closed: %w", err)
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		resp, ok := l.coordinator.Handle(l.ctx, l.callerID, req)
		if ok {
			l.deliver(resp)
		}
	}()
	return nil
}

// Close cancels outstanding requests and waits for them to return.
func (l *Local) Close() error {
	l.cancel()
	l.wg.Wait()
	return nil
}

// Conn is the page side of a socket connection to a Server.
type Conn struct {
	conn   net.Conn
	logger *zap.Logger

	writeMu sync.Mutex
	done    chan struct{}
}

// Dial connects to a Server and delivers every response it pushes until the
// connection closes.
func Dial(ctx context.Context, sockPath string, deliver DeliverFunc, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", sockPath, err)
	}

	c := &Conn{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
	go c.readLoop(deliver)
	return c, nil
}

func (c *Conn) readLoop(deliver DeliverFunc) {
	defer close(c.done)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		resp, err := protocol.DecodeResponse(scanner.Bytes())
		if err != nil {
			c.logger.Warn("transport invalid response", zap.Error(err))
			continue
		}
		deliver(resp)
	}
}

func (c *Conn) Send(req protocol.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	return nil
}

// Done is closed once the server side has gone away.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

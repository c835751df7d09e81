// Package transport defines the contract between nnbridge and a messaging
// endpoint library.
//
// nnbridge treats a transport as opaque apart from one signal: a call that was
// unblocked because its context was terminated must fail with ETERM. Everything
// else (framing, routing, reconnection) belongs to the implementation.
//
// Two implementations ship with the module: transport/inproc, a pure Go
// in-process transport, and transport/nanomsg, which drives libnanomsg.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrFatal marks a fault after which the transport's internal state can no
// longer be trusted. Implementations wrap it; nnbridge poisons the library when
// it sees it.
var ErrFatal = errors.New("transport: fatal fault")

// Transport creates contexts and waits on sockets.
type Transport interface {
	// NewContext creates a termination domain for sockets.
	NewContext() (Context, error)
	// Poll waits until at least one item is ready or timeout elapses.
	// A negative timeout waits forever; zero checks readiness and returns.
	// It returns the number of items with non-zero Revents.
	Poll(items []PollItem, timeout time.Duration) (int, error)
	// Name identifies the implementation in logs.
	Name() string
}

// Context is a group of sockets sharing a termination lifecycle.
type Context interface {
	// Open creates a socket speaking proto.
	Open(proto Protocol) (Socket, error)
	// Term makes every blocked and future call on the context's sockets fail
	// with ETERM (Close excepted), then waits until all of them are closed.
	// Concurrent calls are allowed and all wait.
	Term() error
	// Terminated reports whether Term has been called.
	Terminated() bool
}

// Socket is one messaging endpoint. Implementations must be safe for
// concurrent use.
type Socket interface {
	FD() int
	Close() error
	// Bind and Connect return an endpoint id usable with Shutdown.
	Bind(addr string) (int, error)
	Connect(addr string) (int, error)
	Shutdown(eid int) error
	Send(msg []byte, flags Flags) (int, error)
	Recv(flags Flags) (Message, error)
	SetOption(level, option int, value []byte) error
	Option(level, option int) ([]byte, error)
	Statistic(stat int) (uint64, error)
}

// Message is one received message part.
type Message struct {
	Body []byte
	// More is set when further parts of the same multi-part message follow.
	More bool
}

// PollItem is one socket in a Poll call.
type PollItem struct {
	Socket  Socket
	Events  PollEvents
	Revents PollEvents
}

// Flags modify a send or receive.
type Flags int

const (
	// DontWait makes the call fail with EAGAIN instead of blocking.
	DontWait Flags = 1
	// SendMore marks a part as followed by more parts of the same message.
	SendMore Flags = 2
)

// PollEvents is a bit set of readiness conditions.
type PollEvents int16

const (
	PollIn  PollEvents = 1
	PollOut PollEvents = 2
)

// Protocol selects the messaging pattern of a socket. Values follow nanomsg.
type Protocol int

const (
	Pair       Protocol = 16
	Pub        Protocol = 32
	Sub        Protocol = 33
	Req        Protocol = 48
	Rep        Protocol = 49
	Push       Protocol = 80
	Pull       Protocol = 81
	Surveyor   Protocol = 98
	Respondent Protocol = 99
	Bus        Protocol = 112
)

var protocolNames = map[Protocol]string{
	Pair:       "pair",
	Pub:        "pub",
	Sub:        "sub",
	Req:        "req",
	Rep:        "rep",
	Push:       "push",
	Pull:       "pull",
	Surveyor:   "surveyor",
	Respondent: "respondent",
	Bus:        "bus",
}

// String returns the lower-case pattern name.
func (p Protocol) String() string {
	if s, ok := protocolNames[p]; ok {
		return s
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

// ParseProtocol resolves a pattern name such as "push" or "PUB".
func ParseProtocol(name string) (Protocol, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for p, s := range protocolNames {
		if s == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("transport: unknown protocol %q", name)
}

// SolSocket is the option level of generic socket options.
const SolSocket = 0

// Generic socket options (level SolSocket). Integer options are native-endian
// 32-bit values; durations are milliseconds with -1 meaning infinite.
const (
	OptLinger          = 1
	OptSndBuf          = 2
	OptRcvBuf          = 3
	OptSndTimeo        = 4
	OptRcvTimeo        = 5
	OptReconnectIvl    = 6
	OptReconnectIvlMax = 7
	OptSndPrio         = 8
	OptRcvPrio         = 9
	OptSndFD           = 10
	OptRcvFD           = 11
	OptDomain          = 12
	OptProtocol        = 13
	OptIPv4Only        = 14
	OptSocketName      = 15
	OptRcvMaxSize      = 16
)

// Subscription options, at level int(Sub).
const (
	SubSubscribe   = 1
	SubUnsubscribe = 2
)

// Statistics readable with Socket.Statistic.
const (
	StatEstablishedConnections = 101
	StatAcceptedConnections    = 102
	StatDroppedConnections     = 103
	StatBrokenConnections      = 104
	StatCurrentConnections     = 201
	StatMessagesSent           = 301
	StatMessagesReceived       = 302
	StatBytesSent              = 303
	StatBytesReceived          = 304
)

// IntValue encodes an integer option value.
func IntValue(v int) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, uint32(int32(v)))
	return b
}

// ParseInt decodes an integer option value.
func ParseInt(b []byte) (int, error) {
	if len(b) != 4 {
		return 0, EINVAL
	}
	return int(int32(binary.NativeEndian.Uint32(b))), nil
}

// Millis converts a duration to an option value in milliseconds.
// Negative durations mean infinite.
func Millis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int(d / time.Millisecond)
}

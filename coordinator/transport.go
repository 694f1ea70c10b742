package coordinator

import (
	"errors"
	"net"
	"net/rpc"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var (
	// ErrTimeout means a participant did not answer within the transport
	// deadline. The coordinator turns it into an implicit abort vote,
	// never a retry: a retry could race the participant's own rollback.
	ErrTimeout = errors.New("transport timeout")
	// ErrUnreachable means the participant could not be dialed at all.
	ErrUnreachable = errors.New("participant unreachable")
)

// remote is a point-to-point rpc channel to one participant with a fixed
// per-call deadline. A circuit breaker fails calls fast once the
// participant has looked dead for several consecutive calls; an open
// breaker behaves exactly like an unreachable node.
type remote struct {
	id      string
	address string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	log     *log.Entry
}

func newRemote(logger *log.Entry, id, address string, timeout time.Duration) *remote {
	r := &remote{
		id:      id,
		address: address,
		timeout: timeout,
		log:     logger,
	}
	r.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    id,
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("circuit breaker for participant %s: %s -> %s", name, from, to)
		},
	})
	return r
}

// call performs one rpc bounded by the transport deadline. Errors the
// participant itself answered with (state machine rejections) are passed
// through without counting against the breaker.
func (r *remote) call(method string, args, reply interface{}) error {
	res, err := r.cb.Execute(func() (interface{}, error) {
		conn, err := net.DialTimeout("tcp", r.address, r.timeout)
		if err != nil {
			return nil, ErrUnreachable
		}
		client := rpc.NewClient(conn)
		defer client.Close()

		call := client.Go(method, args, reply, make(chan *rpc.Call, 1))
		select {
		case <-time.After(r.timeout):
			return nil, ErrTimeout
		case done := <-call.Done:
			if done.Error != nil {
				return done.Error, nil
			}
			return nil, nil
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			r.log.Warnf("circuit breaker open for participant %s", r.id)
			return ErrUnreachable
		}
		return err
	}
	if res != nil {
		return res.(error)
	}
	return nil
}

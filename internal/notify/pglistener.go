package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"parlor/internal/session"
)

const (
	listenWake     = 50 * time.Second
	reconnectFloor = time.Second
	reconnectCeil  = 30 * time.Second
)

// PG bridges the notifier contract over Postgres LISTEN/NOTIFY, so
// every process sharing the session database sees every change hint.
// One dedicated connection carries all LISTENs; received notifications
// fan out through an in-process Bus.
type PG struct {
	pool *pgxpool.Pool
	bus  *Bus

	mu       sync.Mutex
	topics   map[string]int
	relisten chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{
		pool:     pool,
		bus:      NewBus(),
		topics:   map[string]int{},
		relisten: make(chan struct{}, 1),
	}
}

// Start launches the listen loop. Call Close to stop it.
func (n *PG) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})
	go n.run(ctx)
}

func (n *PG) Close() {
	if n.cancel != nil {
		n.cancel()
		<-n.done
	}
}

func (n *PG) Publish(ctx context.Context, topic string, ev session.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = n.pool.Exec(ctx, "SELECT pg_notify($1, $2)", topic, string(payload))
	return err
}

func (n *PG) Subscribe(topic string, fn func(session.Event)) (func(), error) {
	unsub, err := n.bus.Subscribe(topic, fn)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.topics[topic]++
	n.mu.Unlock()
	n.poke()
	return func() {
		unsub()
		n.mu.Lock()
		if n.topics[topic]--; n.topics[topic] <= 0 {
			delete(n.topics, topic)
		}
		n.mu.Unlock()
		n.poke()
	}, nil
}

func (n *PG) poke() {
	select {
	case n.relisten <- struct{}{}:
	default:
	}
}

func (n *PG) wanted() map[string]bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]bool, len(n.topics))
	for t := range n.topics {
		out[t] = true
	}
	return out
}

func (n *PG) run(ctx context.Context) {
	defer close(n.done)
	backoff := reconnectFloor
	for ctx.Err() == nil {
		err := n.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("retry_in", backoff).Msg("notify listener disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > reconnectCeil {
			backoff = reconnectCeil
		}
	}
}

// listen holds one connection, keeps its LISTEN set in sync with the
// subscribed topics and dispatches notifications until the connection
// breaks.
func (n *PG) listen(ctx context.Context) error {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	listened := map[string]bool{}
	for {
		want := n.wanted()
		for topic := range want {
			if !listened[topic] {
				if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{topic}.Sanitize()); err != nil {
					return err
				}
				listened[topic] = true
			}
		}
		for topic := range listened {
			if !want[topic] {
				if _, err := conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{topic}.Sanitize()); err != nil {
					return err
				}
				delete(listened, topic)
			}
		}

		waitCtx, cancel := context.WithTimeout(ctx, listenWake)
		stop := make(chan struct{})
		go func() {
			select {
			case <-n.relisten:
				cancel()
			case <-stop:
			}
		}()
		notice, err := conn.Conn().WaitForNotification(waitCtx)
		close(stop)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if waitCtx.Err() != nil {
				// Woken to re-sync the LISTEN set, or idle timeout.
				continue
			}
			return err
		}
		var ev session.Event
		if err := json.Unmarshal([]byte(notice.Payload), &ev); err != nil {
			log.Warn().Err(err).Str("topic", notice.Channel).Msg("bad notify payload")
			continue
		}
		_ = n.bus.Publish(ctx, notice.Channel, ev)
	}
}

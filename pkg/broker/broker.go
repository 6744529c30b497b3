// Package broker fans out build-completion events to the clients waiting
// on the buildset that produced them.
package broker

import (
	"log/slog"

	"github.com/buildmill/tryd/pkg/types"
)

// clientBuffer is the per-client event backlog. A client that stops
// draining its channel has events dropped rather than stalling the broker
// loop.
const clientBuffer = 16

// A Broker holds a registry with subscribed clients, listens for events on
// the Notifier channel and broadcasts each event to the clients subscribed
// to its buildset.
type Broker struct {
	log *slog.Logger

	// Events are pushed to this channel.
	Notifier chan types.BuildEvent

	// Channel for adding new subscriptions.
	NewClients chan *Client

	// Channel for signaling a closed subscription.
	ClosingClients chan *Client

	// clients is the subscription registry of the Broker.
	clients map[*Client]bool

	quit chan struct{}
}

// Client is a single subscription to the events of one buildset.
type Client struct {
	// Buildset is the buildset id the client wants events for.
	Buildset string

	// EventC receives the matching events. It is closed when the client
	// is unsubscribed.
	EventC chan types.BuildEvent
}

// NewClient returns a subscription handle for the given buildset id.
func NewClient(buildset string) *Client {
	return &Client{Buildset: buildset, EventC: make(chan types.BuildEvent, clientBuffer)}
}

// NewBroker returns a new Broker.
func NewBroker(logger *slog.Logger) *Broker {
	br := &Broker{}
	br.log = logger
	br.Notifier = make(chan types.BuildEvent)
	br.NewClients = make(chan *Client)
	br.ClosingClients = make(chan *Client)
	br.clients = make(map[*Client]bool)
	br.quit = make(chan struct{})
	return br
}

// ListenForClients runs the broker loop: it registers new clients,
// unregisters closing ones and broadcasts incoming events. It returns when
// Stop is called.
func (br *Broker) ListenForClients() {
	for {
		select {
		case client := <-br.NewClients:
			br.clients[client] = true
		case client := <-br.ClosingClients:
			if br.clients[client] {
				delete(br.clients, client)
				close(client.EventC)
			}
		case ev := <-br.Notifier:
			for client := range br.clients {
				if client.Buildset != ev.Buildset {
					continue
				}
				select {
				case client.EventC <- ev:
				default:
					br.log.Warn("dropping event for slow client",
						"buildset", ev.Buildset, "builder", ev.Builder)
				}
			}
		case <-br.quit:
			for client := range br.clients {
				delete(br.clients, client)
				close(client.EventC)
			}
			return
		}
	}
}

// Publish sends ev to the broker loop.
func (br *Broker) Publish(ev types.BuildEvent) {
	select {
	case br.Notifier <- ev:
	case <-br.quit:
	}
}

// Subscribe registers a new client for the given buildset id.
func (br *Broker) Subscribe(buildset string) *Client {
	c := NewClient(buildset)
	select {
	case br.NewClients <- c:
	case <-br.quit:
		close(c.EventC)
	}
	return c
}

// Unsubscribe removes c from the registry and closes its channel.
func (br *Broker) Unsubscribe(c *Client) {
	select {
	case br.ClosingClients <- c:
	case <-br.quit:
	}
}

// Stop terminates the broker loop and closes all subscriptions.
func (br *Broker) Stop() {
	close(br.quit)
}

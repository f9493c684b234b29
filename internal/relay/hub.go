// Package relay is the server side of the document channel: it accepts
// websocket clients, interprets their intents, and fans events back out.
// All fan-out goes through Redis pub/sub, so any relay instance subscribed
// to a document topic delivers the same frames to its local clients.
package relay

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"codraft/internal/cache"
)

// sendBuffer is the per-client outbound queue. A client that cannot drain
// it is dropped rather than allowed to stall the fan-out.
const sendBuffer = 256

// Bus carries frames between relay instances. cache.RedisStore satisfies it.
type Bus interface {
	Publish(ctx context.Context, topic string, frame []byte) error
	Subscribe(ctx context.Context, topic string) *redis.PubSub
}

// Client is one attached websocket peer. Send is drained by the connection's
// write pump; the hub never writes to the socket directly.
type Client struct {
	UserID   string
	Nickname string
	Send     chan []byte
}

func NewClient(userID, nickname string) *Client {
	return &Client{UserID: userID, Nickname: nickname, Send: make(chan []byte, sendBuffer)}
}

type docTopic struct {
	clients map[*Client]struct{}
	cancel  context.CancelFunc
}

// Hub tracks which local clients are attached to which document and bridges
// the document's Redis topic to them.
type Hub struct {
	bus Bus

	mu   sync.Mutex
	docs map[string]*docTopic
}

func NewHub(bus Bus) *Hub {
	return &Hub{bus: bus, docs: make(map[string]*docTopic)}
}

// Attach registers a client on a document. The first client on a document
// opens the Redis subscription; it stays open until the last client detaches.
func (h *Hub) Attach(documentID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topic, ok := h.docs[documentID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		topic = &docTopic{clients: make(map[*Client]struct{}), cancel: cancel}
		h.docs[documentID] = topic
		// Subscribe before returning so a broadcast right after Attach
		// cannot slip past the topic.
		sub := h.bus.Subscribe(ctx, cache.TopicFor(documentID))
		go h.pump(ctx, documentID, sub)
	}
	topic.clients[c] = struct{}{}
}

// Detach removes a client. The last detach closes the Redis subscription.
func (h *Hub) Detach(documentID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topic, ok := h.docs[documentID]
	if !ok {
		return
	}
	if _, attached := topic.clients[c]; !attached {
		return
	}
	delete(topic.clients, c)
	close(c.Send)
	if len(topic.clients) == 0 {
		topic.cancel()
		delete(h.docs, documentID)
	}
}

// Broadcast publishes a frame on the document topic. Delivery to local
// clients happens through the subscription like any other instance's.
func (h *Hub) Broadcast(ctx context.Context, documentID string, frame []byte) error {
	return h.bus.Publish(ctx, cache.TopicFor(documentID), frame)
}

// pump moves frames from the Redis topic to every attached local client.
func (h *Hub) pump(ctx context.Context, documentID string, sub *redis.PubSub) {
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.deliver(documentID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) deliver(documentID string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topic, ok := h.docs[documentID]
	if !ok {
		return
	}
	for c := range topic.clients {
		select {
		case c.Send <- frame:
		default:
			// Slow consumer; drop it so the rest keep flowing.
			log.Printf("dropping slow client user=%s doc=%s", c.UserID, documentID)
			delete(topic.clients, c)
			close(c.Send)
		}
	}
	if len(topic.clients) == 0 {
		topic.cancel()
		delete(h.docs, documentID)
	}
}

// SendDirect queues a frame for a single client, bypassing the topic.
// Used for replies only the requester should see.
func (h *Hub) SendDirect(documentID string, c *Client, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topic, ok := h.docs[documentID]
	if !ok {
		return
	}
	if _, attached := topic.clients[c]; !attached {
		return
	}
	select {
	case c.Send <- frame:
	default:
		log.Printf("dropping slow client user=%s doc=%s", c.UserID, documentID)
		delete(topic.clients, c)
		close(c.Send)
		if len(topic.clients) == 0 {
			topic.cancel()
			delete(h.docs, documentID)
		}
	}
}

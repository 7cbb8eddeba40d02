package redispubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dwellchat/dwellchat-server/internal/core"
	"github.com/dwellchat/dwellchat-server/internal/utils"
)

const defaultChannel = "dwellchat:broadcast"

// envelope is the wire format shared by all server processes.
type envelope struct {
	Origin         string      `json:"origin"`
	ConversationID string      `json:"conversation_id"`
	Participants   []string    `json:"participants"`
	Event          *core.Event `json:"event"`
}

// Bridge fans broadcasts out across server processes over redis pub/sub, so a
// connection on process B receives an event triggered on process A.
type Bridge struct {
	client  *redis.Client
	channel string
	origin  string
	rooms   *core.RoomManager
	log     *zerolog.Logger
}

// New connects to redis and verifies the connection with a ping.
func New(url string, rooms *core.RoomManager, logger *zerolog.Logger) (*Bridge, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Bridge{
		client:  client,
		channel: defaultChannel,
		origin:  utils.NewID(),
		rooms:   rooms,
		log:     logger,
	}, nil
}

// Publish sends the event to every other process. Local delivery stays with
// the room manager; subscribers skip their own origin.
func (b *Bridge) Publish(ctx context.Context, conversationID string, participants []string, ev *core.Event) error {
	payload, err := json.Marshal(envelope{
		Origin:         b.origin,
		ConversationID: conversationID,
		Participants:   participants,
		Event:          ev,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Run subscribes to the broadcast channel and delivers remote events to local
// connections until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn().Err(err).Msg("bridge: bad envelope")
				continue
			}
			if env.Origin == b.origin || env.Event == nil {
				continue
			}
			b.rooms.DeliverRemote(env.ConversationID, env.Participants, env.Event)
		}
	}
}

// Close closes the redis connection.
func (b *Bridge) Close() error {
	return b.client.Close()
}

var _ core.BridgePublisher = (*Bridge)(nil)

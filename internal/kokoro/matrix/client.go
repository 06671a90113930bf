// Package matrix is Kokoro's chat surface: one bot account syncing the
// configured companion rooms, delivering persona responses as separate
// room messages.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are the room IDs Kokoro joins and converses in. Messages from
	// other rooms are ignored.
	Rooms []string
	// DB is an optional SQLite connection used to persist the sync token
	// across restarts. When nil, history replays on every restart.
	DB *sql.DB
}

// MessageHandler processes one incoming room message.
type MessageHandler func(ctx context.Context, evt *event.Event)

// Client wraps the mautrix client with reconnecting sync.
type Client struct {
	client     *mautrix.Client
	config     *Config
	stopCh     chan struct{}
	msgHandler MessageHandler
}

// New creates a Matrix client. Start must be called before it does
// anything.
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}

	c := &Client{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
	}

	// A persistent sync store keeps the bot from replaying room history,
	// and therefore from re-answering every old message, after a restart.
	if config.DB != nil {
		client.Store = newDBSyncStore(config.DB)
	} else {
		slog.Warn("matrix: no DB configured, sync position is in-memory and history will replay on restart")
	}

	return c, nil
}

// Start joins the configured rooms and begins syncing in the background.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.msgHandler = handler

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("matrix: join room %s: %w", roomID, err)
		}
	}

	// Sync with exponential back-off reconnection. Without retries a
	// transient homeserver error would silently kill the sync goroutine
	// and leave the bot deaf.
	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			if err := c.client.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				slog.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			// Sync returns nil only on a clean StopSync.
			return
		}
	}()

	return nil
}

// Stop ends the sync loop.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// SendMessage sends a plain text message to a room.
func (c *Client) SendMessage(ctx context.Context, roomID, message string) error {
	if _, err := c.client.SendText(ctx, id.RoomID(roomID), message); err != nil {
		return fmt.Errorf("matrix: send message: %w", err)
	}
	return nil
}

// SendFormattedMessage sends an HTML message with a plain-text fallback.
// Persona responses use this so the speaker's name renders emphasised.
func (c *Client) SendFormattedMessage(ctx context.Context, roomID, html, plaintext string) error {
	content := event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          plaintext,
		Format:        event.FormatHTML,
		FormattedBody: html,
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix: send formatted message: %w", err)
	}
	return nil
}

// SendNotice sends a notice, used for command acknowledgements so they
// do not read as conversation.
func (c *Client) SendNotice(ctx context.Context, roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix: send notice: %w", err)
	}
	return nil
}

// SetTyping toggles the bot's typing indicator while responses generate.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout); err != nil {
		return fmt.Errorf("matrix: set typing: %w", err)
	}
	return nil
}

// UserID returns the bot's own user ID.
func (c *Client) UserID() string {
	return c.config.UserID
}

// inRoom reports whether roomID is one of the configured rooms.
func (c *Client) inRoom(roomID string) bool {
	for _, r := range c.config.Rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

// handleMessage filters incoming events down to text messages from other
// users in configured rooms.
func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}
	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.MsgType != event.MsgText {
		return
	}
	if !c.inRoom(evt.RoomID.String()) {
		return
	}
	if c.msgHandler != nil {
		c.msgHandler(ctx, evt)
	}
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	if _, err := c.client.JoinRoomByID(ctx, roomID); err != nil {
		// Homeservers answer M_FORBIDDEN when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: join refused, assuming already a member", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}

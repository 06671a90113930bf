package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bdobrica/Kokoro/internal/kokoro/config"
	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
)

// CommandPrefix marks in-room control commands; anything else is a turn.
const CommandPrefix = "!kokoro"

const commandUsage = "Commands: !kokoro challenge on|off · !kokoro personas <list> · !kokoro reset"

// RoomState is the conversation state of one room.
type RoomState struct {
	ConversationID string
	Challenge      bool
	Personas       persona.Set
}

// Rooms manages per-room conversation state, persisted in settings so it
// survives restarts.
type Rooms struct {
	settings config.Settings
	// finalize is invoked with the old conversation ID when a room resets.
	finalize func(conversationID string)
}

// NewRooms returns a Rooms store. finalize may be nil.
func NewRooms(settings config.Settings, finalize func(conversationID string)) *Rooms {
	if finalize == nil {
		finalize = func(string) {}
	}
	return &Rooms{settings: settings, finalize: finalize}
}

// State loads the room's state, minting a conversation ID on first
// contact.
func (r *Rooms) State(ctx context.Context, roomID string) (RoomState, error) {
	state := RoomState{Personas: persona.FullSet()}

	conv, err := r.settings.Get(ctx, roomKey(roomID, "conversation"))
	if errors.Is(err, config.ErrNotFound) {
		conv = uuid.NewString()
		if err := r.settings.Set(ctx, roomKey(roomID, "conversation"), conv); err != nil {
			return RoomState{}, err
		}
	} else if err != nil {
		return RoomState{}, err
	}
	state.ConversationID = conv

	state.Challenge, err = config.GetBool(ctx, r.settings, roomKey(roomID, "challenge"), false)
	if err != nil {
		return RoomState{}, err
	}

	raw, err := r.settings.Get(ctx, roomKey(roomID, "personas"))
	if err == nil {
		set, perr := parsePersonas(raw)
		if perr != nil {
			return RoomState{}, perr
		}
		state.Personas = set
	} else if !errors.Is(err, config.ErrNotFound) {
		return RoomState{}, err
	}

	return state, nil
}

// RunCommand executes one control command and returns the reply notice.
// ok is false when input is not a command at all.
func (r *Rooms) RunCommand(ctx context.Context, roomID, input string) (reply string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) == 0 || fields[0] != CommandPrefix {
		return "", false
	}
	if len(fields) < 2 {
		return commandUsage, true
	}

	switch fields[1] {
	case "challenge":
		if len(fields) != 3 || (fields[2] != "on" && fields[2] != "off") {
			return "Usage: !kokoro challenge on|off", true
		}
		on := fields[2] == "on"
		if err := config.SetBool(ctx, r.settings, roomKey(roomID, "challenge"), on); err != nil {
			return "Could not update challenge mode.", true
		}
		if on {
			return "Challenge mode on. Expect pushback.", true
		}
		return "Challenge mode off.", true

	case "personas":
		if len(fields) < 3 {
			return "Usage: !kokoro personas <instinct,logic,psyche>", true
		}
		set, err := parsePersonas(strings.Join(fields[2:], ","))
		if err != nil {
			return fmt.Sprintf("Unknown persona: %v. Valid names: instinct, logic, psyche.", err), true
		}
		if err := r.settings.Set(ctx, roomKey(roomID, "personas"), set.String()); err != nil {
			return "Could not update personas.", true
		}
		return "Listening personas: " + set.String() + ".", true

	case "reset":
		conv, err := r.settings.Get(ctx, roomKey(roomID, "conversation"))
		if err == nil {
			r.finalize(conv)
		}
		for _, key := range []string{"conversation", "challenge", "personas"} {
			if err := r.settings.Delete(ctx, roomKey(roomID, key)); err != nil {
				return "Could not reset the conversation.", true
			}
		}
		return "Conversation reset. Starting fresh.", true

	default:
		return commandUsage, true
	}
}

func roomKey(roomID, field string) string {
	return "room/" + roomID + "/" + field
}

// parsePersonas parses a comma or space separated persona list.
func parsePersonas(raw string) (persona.Set, error) {
	raw = strings.ReplaceAll(raw, ",", " ")
	var members []persona.Persona
	for _, name := range strings.Fields(raw) {
		p, err := persona.Parse(name)
		if err != nil {
			return persona.Set{}, fmt.Errorf("%s", name)
		}
		members = append(members, p)
	}
	if len(members) == 0 {
		return persona.Set{}, fmt.Errorf("empty persona list")
	}
	return persona.NewSet(members...), nil
}

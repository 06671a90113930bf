package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Kokoro/common/trace"
	"github.com/bdobrica/Kokoro/internal/kokoro/affinity"
	"github.com/bdobrica/Kokoro/internal/kokoro/config"
	"github.com/bdobrica/Kokoro/internal/kokoro/debate"
	"github.com/bdobrica/Kokoro/internal/kokoro/grounding"
	"github.com/bdobrica/Kokoro/internal/kokoro/llm"
	"github.com/bdobrica/Kokoro/internal/kokoro/matrix"
	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
	"github.com/bdobrica/Kokoro/internal/kokoro/responder"
	"github.com/bdobrica/Kokoro/internal/kokoro/routing"
	"github.com/bdobrica/Kokoro/internal/kokoro/store"
	"github.com/bdobrica/Kokoro/internal/kokoro/traits"
	"github.com/bdobrica/Kokoro/internal/kokoro/turn"
)

const typingTimeout = 30 * time.Second

// Config holds everything the application needs to start.
type Config struct {
	// DatabasePath is the SQLite database file.
	DatabasePath string

	// CardsDir overrides the embedded persona cards when set.
	CardsDir string

	// AnalysisQueue is the trait analysis queue depth. Zero means the
	// worker default.
	AnalysisQueue int

	Matrix matrix.Config
	LLM    llm.Config
}

// App wires the stores, the turn pipeline, the trait worker, and the
// Matrix surface together.
type App struct {
	config Config
	store  *store.Store
	rooms  *Rooms
	turns  *turn.Service
	worker *traits.Worker
	matrix *matrix.Client
}

// New builds the application. Call Run to start it and Stop to shut it
// down.
func New(cfg Config) (*App, error) {
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	cards, err := loadCards(cfg.CardsDir)
	if err != nil {
		db.Close()
		return nil, err
	}

	provider := llm.New(cfg.LLM)
	sessions := affinity.NewSessionStore(affinity.SessionDefaults())
	router := routing.New(routing.Defaults(), cards)
	classifier := grounding.New(grounding.Defaults())
	rsp := responder.New(provider, cards, responder.Defaults())
	moderator := debate.NewModerator(debate.NewLLMJudge(provider, debate.DefaultJudgeConfig()))

	tcfg := traits.Defaults()
	worker := traits.NewWorker(
		traits.NewIntrinsicAnalyzer(provider, tcfg),
		traits.NewEngagementAnalyzer(provider, cards, tcfg),
		db,
		tcfg,
		cfg.AnalysisQueue,
	)

	turns := turn.New(db, sessions, router, classifier, rsp, moderator, worker, cards, turn.Defaults())

	cfg.Matrix.DB = db.DB()
	client, err := matrix.New(&cfg.Matrix)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("app: matrix client: %w", err)
	}

	return &App{
		config: cfg,
		store:  db,
		rooms:  NewRooms(config.New(db), turns.Finalize),
		turns:  turns,
		worker: worker,
		matrix: client,
	}, nil
}

// Run starts the trait worker and the Matrix sync loop, then blocks
// until the process receives SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	a.worker.Start()

	if err := a.matrix.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("app: start matrix: %w", err)
	}

	slog.Info("kokoro started",
		"user", a.matrix.UserID(),
		"rooms", len(a.config.Matrix.Rooms))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}
	return nil
}

// Stop shuts the application down in dependency order: stop taking
// messages, drain pending analyses, then close storage.
func (a *App) Stop() {
	if a.matrix != nil {
		a.matrix.Stop()
	}
	if a.worker != nil {
		a.worker.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("close store", "error", err)
		}
	}
}

func (a *App) handleMessage(ctx context.Context, evt *event.Event) {
	msg := evt.Content.AsMessage()
	if msg == nil {
		return
	}
	roomID := evt.RoomID.String()
	sender := evt.Sender.String()
	body := msg.Body

	ctx = trace.WithTurnID(ctx, trace.NewTurnID())
	log := trace.Logger(ctx)

	if reply, ok := a.rooms.RunCommand(ctx, roomID, body); ok {
		if err := a.matrix.SendNotice(ctx, roomID, reply); err != nil {
			log.Error("send command reply", "room", roomID, "error", err)
		}
		return
	}

	state, err := a.rooms.State(ctx, roomID)
	if err != nil {
		log.Error("load room state", "room", roomID, "error", err)
		return
	}

	if err := a.matrix.SetTyping(ctx, roomID, true, typingTimeout); err != nil {
		log.Debug("set typing", "room", roomID, "error", err)
	}
	defer func() {
		if err := a.matrix.SetTyping(ctx, roomID, false, 0); err != nil {
			log.Debug("clear typing", "room", roomID, "error", err)
		}
	}()

	result, err := a.turns.HandleTurn(ctx, turn.TurnRequest{
		ConversationID:  state.ConversationID,
		UserID:          sender,
		Message:         body,
		EnabledPersonas: state.Personas,
		ChallengeMode:   state.Challenge,
	})
	if err != nil {
		log.Error("handle turn", "room", roomID, "error", err)
		if err := a.matrix.SendNotice(ctx, roomID, "Sorry, I could not think that one through. Try again?"); err != nil {
			log.Error("send failure notice", "room", roomID, "error", err)
		}
		return
	}

	for _, resp := range result.Responses {
		if err := a.matrix.SendFormattedMessage(ctx, roomID, formatHTML(resp), formatPlain(resp)); err != nil {
			log.Error("deliver response", "room", roomID, "persona", resp.Persona, "error", err)
		}
	}
}

func formatHTML(r turn.PersonaResponse) string {
	return fmt.Sprintf("<strong>%s:</strong> %s", r.DisplayName, r.Text)
}

func formatPlain(r turn.PersonaResponse) string {
	return fmt.Sprintf("%s: %s", r.DisplayName, r.Text)
}

func loadCards(dir string) (*persona.Cards, error) {
	if dir != "" {
		cards, err := persona.LoadCardsDir(dir)
		if err != nil {
			return nil, fmt.Errorf("app: load cards from %s: %w", dir, err)
		}
		return cards, nil
	}
	cards, err := persona.LoadDefaultCards()
	if err != nil {
		return nil, fmt.Errorf("app: load embedded cards: %w", err)
	}
	return cards, nil
}

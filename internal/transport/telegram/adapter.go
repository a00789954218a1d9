package telegram

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "alarmd/internal/runtime/supervisor"
	"alarmd/internal/transport"
	logx "alarmd/pkg/logx"
)

// Config configures the bot connection.
type Config struct {
	Token          string
	PollTimeout    time.Duration
	CommandTimeout time.Duration
	// OwnerUserIDs may issue commands. Empty means nobody.
	OwnerUserIDs []int64
}

// Adapter implements transport.Sender on top of telebot and, once started,
// forwards owner commands to a transport.CommandHandler.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	handler transport.CommandHandler
	sup     *rtsup.Supervisor
}

var _ transport.Sender = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	a.bot.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	cmd, ok := ParseCommand(m.Text)
	if !ok {
		return nil
	}
	cmd.ChatID = m.Chat.ID
	cmd.ThreadID = m.ThreadID
	cmd.FromID = m.Sender.ID

	a.runMu.Lock()
	h := a.handler
	sup := a.sup
	owners := a.cfg.OwnerUserIDs
	a.runMu.Unlock()
	if h == nil || sup == nil {
		return nil
	}
	if !slices.Contains(owners, cmd.FromID) {
		a.log.Info("command from non-owner ignored", logx.String("cmd", cmd.Name), logx.Int64("from", cmd.FromID))
		return nil
	}

	timeout := a.cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(sup.Context(), timeout)
	defer cancel()

	reply, err := h.HandleCommand(ctx, cmd)
	if err != nil {
		a.log.Debug("command failed", logx.String("cmd", cmd.Name), logx.Err(err))
	}
	if reply == "" {
		return nil
	}
	_, serr := a.SendText(ctx, transport.ChatTarget{ChatID: cmd.ChatID, ThreadID: cmd.ThreadID}, reply, &transport.SendOptions{DisablePreview: true})
	return serr
}

// SetOwners replaces the users allowed to issue commands.
func (a *Adapter) SetOwners(ids []int64) {
	a.runMu.Lock()
	a.cfg.OwnerUserIDs = slices.Clone(ids)
	a.runMu.Unlock()
}

// ParseCommand splits "/name@bot args" into a Command.
func ParseCommand(text string) (transport.Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return transport.Command{}, false
	}
	name, args, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return transport.Command{}, false
	}
	return transport.Command{Name: name, Args: strings.TrimSpace(args)}, true
}

// Start begins long polling and routes commands to h.
func (a *Adapter) Start(ctx context.Context, h transport.CommandHandler) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.handler = h
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Telebot's Start() can return unexpectedly; restart it while ctx is alive.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return c.Err()
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.handler = nil
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	// Never block shutdown for long on a pending getUpdates.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first transport.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Delete(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}})
}

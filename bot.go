package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/json"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/schizoid/markovbot/internal/httpapi"
)

const (
	commandMarkov      = "markov"
	commandMarkovAdmin = "markov-admin"
	subBlockWord       = "block-word"
	subAllowWord       = "allow-word"
	optMaxLength       = "max-length"
	optWord            = "word"

	eventTimeout = 15 * time.Second
)

var commands = []discord.ApplicationCommandCreate{
	discord.SlashCommandCreate{
		Name:                     commandMarkov,
		Description:              "Generates a message using Markov",
		DefaultMemberPermissions: json.NewNullablePtr(discord.PermissionSendMessages),
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionInt{
				Name:        optMaxLength,
				Description: "The maximum number of words the response can have.",
			},
		},
	},
	discord.SlashCommandCreate{
		Name:                     commandMarkovAdmin,
		Description:              "Markov related commands",
		DefaultMemberPermissions: json.NewNullablePtr(discord.PermissionAdministrator),
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        subBlockWord,
				Description: "Blocks a word from being returned by the bot.",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        optWord,
						Description: "The word to block",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        subAllowWord,
				Description: "Allows a previously blocked word again.",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        optWord,
						Description: "The word to allow",
						Required:    true,
					},
				},
			},
		},
	},
}

// gatewayHandlers adapts disgo events to the brain. Events carry no context,
// so each handler derives one from the process context.
type gatewayHandlers struct {
	ctx    context.Context
	brain  *brain
	logger *zap.Logger
}

func (h *gatewayHandlers) eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(h.ctx, eventTimeout)
}

func (h *gatewayHandlers) onGuildReady(event *events.GuildReady) {
	h.initGuild(event.GuildID)
}

func (h *gatewayHandlers) onGuildJoin(event *events.GuildJoin) {
	h.initGuild(event.GuildID)
}

func (h *gatewayHandlers) initGuild(guildID snowflake.ID) {
	ctx, cancel := h.eventContext()
	defer cancel()
	if err := h.brain.initGuild(ctx, guildID); err != nil {
		h.logger.Error("failed to initialize guild", zap.String("guild", guildID.String()), zap.Error(err))
	}
}

func (h *gatewayHandlers) onMessageCreate(event *events.MessageCreate) {
	if event.GuildID == nil {
		return
	}
	ctx, cancel := h.eventContext()
	defer cancel()
	h.brain.observe(ctx, *event.GuildID, event.Message)
}

func (h *gatewayHandlers) onCommand(event *events.ApplicationCommandInteractionCreate) {
	data, ok := event.Data.(discord.SlashCommandInteractionData)
	if !ok {
		return
	}
	guildID := event.GuildID()
	if guildID == nil {
		h.respond(event, replyNotInAGuild)
		return
	}

	ctx, cancel := h.eventContext()
	defer cancel()

	switch data.CommandName() {
	case commandMarkov:
		// Generation can take several store round trips.
		if err := event.DeferCreateMessage(false); err != nil {
			h.logger.Warn("failed to defer interaction", zap.Error(err))
			return
		}
		maxLength, set := data.OptInt(optMaxLength)
		reply := h.brain.markovReply(ctx, *guildID, maxLength, set)

		_, err := event.Client().Rest().UpdateInteractionResponse(event.ApplicationID(), event.Token(),
			discord.NewMessageUpdateBuilder().
				SetContent(reply).
				SetAllowedMentions(&discord.AllowedMentions{}).
				Build(),
		)
		if err != nil {
			h.logger.Warn("failed to update interaction response", zap.Error(err))
		}

	case commandMarkovAdmin:
		if data.SubCommandName == nil {
			return
		}
		word := data.String(optWord)
		switch *data.SubCommandName {
		case subBlockWord:
			h.respond(event, h.brain.blockWordReply(ctx, *guildID, word))
		case subAllowWord:
			h.respond(event, h.brain.allowWordReply(ctx, *guildID, word))
		}
	}
}

func (h *gatewayHandlers) respond(event *events.ApplicationCommandInteractionCreate, content string) {
	err := event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(content).
		SetAllowedMentions(&discord.AllowedMentions{}).
		Build(),
	)
	if err != nil {
		h.logger.Warn("failed to respond to interaction", zap.Error(err))
	}
}

// runBot connects to the gateway and serves HTTP until ctx is cancelled.
func runBot(ctx context.Context, a *app) error {
	if err := a.cfg.ValidateBot(); err != nil {
		return err
	}
	testGuild, err := a.cfg.TestGuildID()
	if err != nil {
		return err
	}

	logger := a.logger.Named("discord")
	handlers := &gatewayHandlers{
		ctx:    ctx,
		brain:  newBrain(a.chain, a.cfg.Bot, logger),
		logger: logger,
	}

	client, err := disgo.New(a.cfg.Bot.Token,
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds),
		),
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMessages,
				gateway.IntentMessageContent,
			),
		),
		bot.WithEventListenerFunc(handlers.onGuildReady),
		bot.WithEventListenerFunc(handlers.onGuildJoin),
		bot.WithEventListenerFunc(handlers.onMessageCreate),
		bot.WithEventListenerFunc(handlers.onCommand),
	)
	if err != nil {
		return fmt.Errorf("create discord client: %w", err)
	}
	defer client.Close(context.Background())

	if testGuild != 0 {
		_, err = client.Rest().SetGuildCommands(client.ApplicationID(), testGuild, commands)
	} else {
		_, err = client.Rest().SetGlobalCommands(client.ApplicationID(), commands)
	}
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	a.dirty = a.memory != nil
	logger.Info("bot is running", zap.Stringer("test_guild", testGuild))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.runSnapshots(gctx)
		return nil
	})
	g.Go(func() error {
		return serveHTTP(gctx, a)
	})
	return g.Wait()
}

// serveHTTP runs the HTTP API until ctx is cancelled, then shuts it down.
func serveHTTP(ctx context.Context, a *app) error {
	srv := httpapi.New(a.chain, a.cfg.Bot.HardWordLimit, a.metrics.Handler(), a.logger.Named("http")).
		NewHTTPServer(a.cfg.HTTP.Addr)

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.cfg.HTTP.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

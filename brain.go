package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/schizoid/markovbot/internal/config"
	"github.com/schizoid/markovbot/internal/markov"
	"github.com/schizoid/markovbot/internal/tokenizer"
)

const (
	replyNoData      = "No messages have been indexed for your server yet."
	replyFailed      = "Something went wrong while generating a message, try again later."
	replyWordBlocked = "Word added to server blocklist."
	replyWordAllowed = "Word removed from server blocklist."
	replyEmptyWord   = "That word has no usable characters."
	replyAdminFailed = "Could not update the server blocklist, try again later."
	replyNotInAGuild = "This command can only be used inside a server."
	tooManyPartsFmt  = "Too many parts detected: `%s`"
)

// brain connects guild events to the chain. Each guild is its own tenant.
type brain struct {
	chain  *markov.Chain
	cfg    config.Bot
	logger *zap.Logger
}

func newBrain(chain *markov.Chain, cfg config.Bot, logger *zap.Logger) *brain {
	return &brain{chain: chain, cfg: cfg, logger: logger}
}

func tenantOf(guildID snowflake.ID) string { return guildID.String() }

// initGuild creates the tenant for a guild the bot can see.
func (b *brain) initGuild(ctx context.Context, guildID snowflake.ID) error {
	return b.chain.Store().InitializeTenant(ctx, tenantOf(guildID), b.cfg.DefaultForbiddenWords)
}

func shouldObserve(msg discord.Message) bool {
	if msg.Author.Bot {
		return false
	}
	return strings.TrimSpace(msg.Content) != ""
}

// observe ingests a guild message.
func (b *brain) observe(ctx context.Context, guildID snowflake.ID, msg discord.Message) {
	if !b.cfg.IngestMessages || !shouldObserve(msg) {
		return
	}
	n, err := b.chain.ImportSentence(ctx, tenantOf(guildID), msg.Content)
	if err != nil {
		b.logger.Warn("failed to ingest message",
			zap.String("guild", guildID.String()),
			zap.String("message", msg.ID.String()),
			zap.Error(err),
		)
		return
	}
	b.logger.Debug("message ingested", zap.String("guild", guildID.String()), zap.Int("tokens", n))
}

// markovReply generates the reply to /markov. maxLength is clamped to the
// hard word limit, which is also used when it is absent or not positive.
func (b *brain) markovReply(ctx context.Context, guildID snowflake.ID, maxLength int, set bool) string {
	limit := b.cfg.HardWordLimit
	if set && maxLength > 0 {
		limit = min(maxLength, limit)
	}

	text, err := b.chain.Generate(ctx, tenantOf(guildID), markov.WithMaxTokens(limit))
	switch {
	case errors.Is(err, markov.ErrNoData):
		return replyNoData
	case err != nil:
		b.logger.Error("generation failed", zap.String("guild", guildID.String()), zap.Error(err))
		return replyFailed
	case text == "":
		return replyNoData
	}
	return text
}

// singleWord tokenizes an admin argument. It returns the word, or the reply
// to send when the argument is not exactly one token.
func singleWord(raw string) (string, string) {
	parts := tokenizer.Split(raw)
	switch len(parts) {
	case 0:
		return "", replyEmptyWord
	case 1:
		return parts[0], ""
	}
	return "", fmt.Sprintf(tooManyPartsFmt, strings.Join(parts, "`, `"))
}

func (b *brain) blockWordReply(ctx context.Context, guildID snowflake.ID, raw string) string {
	word, reject := singleWord(raw)
	if reject != "" {
		return reject
	}
	if err := b.chain.Store().AddForbiddenWord(ctx, tenantOf(guildID), word); err != nil {
		b.logger.Error("failed to block word", zap.String("guild", guildID.String()), zap.Error(err))
		return replyAdminFailed
	}
	return replyWordBlocked
}

func (b *brain) allowWordReply(ctx context.Context, guildID snowflake.ID, raw string) string {
	word, reject := singleWord(raw)
	if reject != "" {
		return reject
	}
	if err := b.chain.Store().RemoveForbiddenWord(ctx, tenantOf(guildID), word); err != nil {
		b.logger.Error("failed to allow word", zap.String("guild", guildID.String()), zap.Error(err))
		return replyAdminFailed
	}
	return replyWordAllowed
}

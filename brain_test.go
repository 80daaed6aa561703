package main

import (
	"context"
	"testing"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schizoid/markovbot/internal/config"
	"github.com/schizoid/markovbot/internal/markov"
	"github.com/schizoid/markovbot/internal/store/memory"
)

const guild = snowflake.ID(4242)

func newTestBrain(t *testing.T, mutate func(*config.Bot)) (*brain, *memory.Store) {
	t.Helper()
	cfg := config.Default().Bot
	if mutate != nil {
		mutate(&cfg)
	}
	store := memory.New(nil)
	return newBrain(markov.NewChain(store), cfg, zap.NewNop()), store
}

func message(content string, fromBot bool) discord.Message {
	return discord.Message{Content: content, Author: discord.User{Bot: fromBot}}
}

func TestShouldObserve(t *testing.T) {
	assert.True(t, shouldObserve(message("hi", false)))
	assert.False(t, shouldObserve(message("hi", true)))
	assert.False(t, shouldObserve(message("", false)))
	assert.False(t, shouldObserve(message("  \n", false)))
}

func TestObserve(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBrain(t, nil)

	b.observe(ctx, guild, message("hello world", false))
	b.observe(ctx, guild, message("hello bots", true))

	assert.Equal(t, uint64(1), store.Uses("4242", markov.Word("hello"), markov.Word("world")))
	assert.Zero(t, store.Uses("4242", markov.Word("hello"), markov.Word("bots")))
}

func TestObserve_Disabled(t *testing.T) {
	b, store := newTestBrain(t, func(c *config.Bot) { c.IngestMessages = false })
	b.observe(context.Background(), guild, message("hello world", false))
	assert.Zero(t, store.Uses("4242", markov.Start, markov.Word("hello")))
}

func TestMarkovReply(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBrain(t, func(c *config.Bot) { c.HardWordLimit = 3 })

	assert.Equal(t, replyNoData, b.markovReply(ctx, guild, 0, false))

	_, err := b.chain.ImportSentence(ctx, "4242", "one two three four five")
	require.NoError(t, err)

	assert.Equal(t, "one two three", b.markovReply(ctx, guild, 0, false))
	assert.Equal(t, "one two three", b.markovReply(ctx, guild, 100, true))
	assert.Equal(t, "one two three", b.markovReply(ctx, guild, -1, true))
	assert.Equal(t, "one", b.markovReply(ctx, guild, 1, true))
}

func TestBlockAndAllowWord(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBrain(t, nil)
	_, err := b.chain.ImportSentence(ctx, "4242", "hello world")
	require.NoError(t, err)

	assert.Equal(t, "Too many parts detected: `Hello`, `there`", b.blockWordReply(ctx, guild, "Hello there"))
	assert.Equal(t, "Too many parts detected: `hi`, `!`", b.allowWordReply(ctx, guild, "hi!"))
	assert.Equal(t, replyEmptyWord, b.blockWordReply(ctx, guild, "   "))

	assert.Equal(t, replyWordBlocked, b.blockWordReply(ctx, guild, "HELLO"))
	assert.Equal(t, replyNoData, b.markovReply(ctx, guild, 0, false))

	assert.Equal(t, replyWordAllowed, b.allowWordReply(ctx, guild, "Hello"))
	assert.Equal(t, "hello world", b.markovReply(ctx, guild, 0, false))
}

func TestInitGuild_SeedsDefaults(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBrain(t, func(c *config.Bot) { c.DefaultForbiddenWords = []string{"spam"} })

	require.NoError(t, b.initGuild(ctx, guild))
	require.Equal(t, replyWordAllowed, b.allowWordReply(ctx, guild, "spam"))
	require.NoError(t, b.initGuild(ctx, guild))

	set, err := store.ForbiddenWords(ctx, "4242")
	require.NoError(t, err)
	assert.False(t, set.Contains("spam"), "reconnecting must not re-forbid an allowed word")
}

type unavailableStore struct{ *memory.Store }

func (unavailableStore) FetchOutgoing(context.Context, string, markov.Node) ([]markov.Candidate, error) {
	return nil, markov.ErrStorageUnavailable
}

func (unavailableStore) AddForbiddenWord(context.Context, string, string) error {
	return markov.ErrStorageUnavailable
}

func TestReplies_StorageFailure(t *testing.T) {
	ctx := context.Background()
	b := newBrain(markov.NewChain(unavailableStore{memory.New(nil)}), config.Default().Bot, zap.NewNop())

	assert.Equal(t, replyFailed, b.markovReply(ctx, guild, 0, false))
	assert.Equal(t, replyAdminFailed, b.blockWordReply(ctx, guild, "word"))
}

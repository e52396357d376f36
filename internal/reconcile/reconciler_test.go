package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/guildsync/internal/blueprint"
	"github.com/dokzlo13/guildsync/internal/discord"
	"github.com/dokzlo13/guildsync/internal/guild"
)

const everyone = "everyone"

type countingPacer struct{ n int }

func (p *countingPacer) Pace(ctx context.Context) error {
	p.n++
	return ctx.Err()
}

func strPtr(s string) *string { return &s }

func mustParse(t *testing.T, doc string) *blueprint.Blueprint {
	t.Helper()
	bp, err := blueprint.Parse([]byte(doc))
	require.NoError(t, err)
	return bp
}

func scenarioA() *blueprint.Blueprint {
	return &blueprint.Blueprint{
		Roles: []string{"Team"},
		Categories: []blueprint.CategorySpec{{
			Name:     "General",
			Channels: []blueprint.ChannelSpec{{Name: "chat", Kind: guild.KindText}},
		}},
	}
}

func snapshot(t *testing.T, g guild.Query) guild.Snapshot {
	t.Helper()
	snap, err := g.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func TestApply_ScenarioA_EmptyGuild(t *testing.T) {
	g := guild.NewMemory(everyone, true)
	r := New("Team", "Bot", nil)

	sum, err := r.Apply(context.Background(), g, scenarioA())
	require.NoError(t, err)
	assert.Equal(t, Summary{RolesCreated: 1, CategoriesCreated: 1, ChannelsCreated: 1}, sum)
	assert.Equal(t, []string{"create_role:Team", "create_category:General", "create_text:chat"}, g.Calls())
}

func TestApply_ScenarioB_ReapplyOnlyUpdates(t *testing.T) {
	g := guild.NewMemory(everyone, true)
	r := New("Team", "Bot", nil)

	_, err := r.Apply(context.Background(), g, scenarioA())
	require.NoError(t, err)
	g.ResetCalls()

	sum, err := r.Apply(context.Background(), g, scenarioA())
	require.NoError(t, err)
	assert.Equal(t, Summary{ChannelsUpdated: 1}, sum)
	assert.Equal(t, []string{"edit_text:chat"}, g.Calls())
}

func TestApply_ScenarioC_ReadonlyWithBotPost(t *testing.T) {
	g := guild.NewMemory(everyone, true)
	team := g.SeedRole("Team")
	bot := g.SeedRole("Bot")
	bp := &blueprint.Blueprint{Categories: []blueprint.CategorySpec{{
		Name: "Info",
		Channels: []blueprint.ChannelSpec{{
			Name:  "rules",
			Kind:  guild.KindText,
			Flags: blueprint.Flags{Readonly: true, AllowBotPost: true},
		}},
	}}}

	_, err := New("Team", "Bot", nil).Apply(context.Background(), g, bp)
	require.NoError(t, err)

	ch, ok := snapshot(t, g).Channel(guild.KindText, "rules")
	require.True(t, ok)
	assert.Equal(t, []guild.Overwrite{
		{SubjectID: everyone, Allow: guild.PermView, Deny: guild.PermSend},
		{SubjectID: team.ID, Allow: guild.PermView | guild.PermSend | guild.PermManageMessages},
		{SubjectID: bot.ID, Allow: guild.PermView | guild.PermSend},
	}, ch.Overwrites)
}

func TestApply_Idempotent(t *testing.T) {
	doc := `
roles: [Team, Bot, Member, Team]
categories:
  - name: General
    channels:
      - name: chat
      - name: rules
        topic: Be nice
        flags: {readonly: true, allow_bot_post: true}
      - name: lounge
        type: voice
  - name: Staff
    channels:
      - name: internal
        flags: {staff_only: true}
      - name: town-hall
        type: stage
  - name: ""
    channels:
      - name: orphan
`
	seeds := map[string]func(g *guild.Memory){
		"empty": func(*guild.Memory) {},
		"partial": func(g *guild.Memory) {
			g.SeedRole("Bot")
			cat := g.SeedCategory("General")
			g.SeedChannel(guild.Channel{Name: "chat", Kind: guild.KindText, ParentID: cat.ID, Topic: "old"})
			g.SeedChannel(guild.Channel{Name: "lounge", Kind: guild.KindText})
		},
	}
	for name, seed := range seeds {
		for _, stage := range []bool{true, false} {
			t.Run(fmt.Sprintf("%s/stage=%v", name, stage), func(t *testing.T) {
				g := guild.NewMemory(everyone, stage)
				seed(g)
				bp := mustParse(t, doc)
				r := New("Team", "Bot", nil)

				_, err := r.Apply(context.Background(), g, bp)
				require.NoError(t, err)

				second, err := r.Apply(context.Background(), g, bp)
				require.NoError(t, err)
				assert.Zero(t, second.Created(), "second apply must not create: %s", second)
				assert.Equal(t, 5, second.ChannelsUpdated)
			})
		}
	}
}

func TestApply_IdempotentWhenPlatformRenamesTextChannels(t *testing.T) {
	g := guild.NewMemory(everyone, true)
	g.ChannelNames = discord.ChannelName
	bp := mustParse(t, `
categories:
  - name: General
    channels:
      - name: General Chat
      - name: Rules
        topic: Be nice
      - name: Lounge Room
        type: voice
`)
	r := New("Team", "Bot", nil)

	first, err := r.Apply(context.Background(), g, bp)
	require.NoError(t, err)
	assert.Equal(t, 3, first.ChannelsCreated)

	snap := snapshot(t, g)
	ch, ok := snap.Channel(guild.KindText, "General Chat")
	require.True(t, ok)
	assert.Equal(t, "general-chat", ch.Name)

	second, err := r.Apply(context.Background(), g, bp)
	require.NoError(t, err)
	assert.Zero(t, second.Created(), "second apply must not create: %s", second)
	assert.Equal(t, 3, second.ChannelsUpdated)
	assert.Zero(t, Creates(Plan(snapshot(t, g), bp)))

	_, _, n := snapshot(t, g).Counts()
	assert.Equal(t, 3, n)
}

func TestApply_DuplicateEntriesWithinDocument(t *testing.T) {
	bp := mustParse(t, `
roles: [Team, Team]
categories:
  - name: A
    channels: [{name: chat}]
  - name: A
    channels: [{name: chat}]
`)
	g := guild.NewMemory(everyone, true)

	sum, err := New("Team", "Bot", nil).Apply(context.Background(), g, bp)
	require.NoError(t, err)
	assert.Equal(t, Summary{RolesCreated: 1, CategoriesCreated: 1, ChannelsCreated: 1, ChannelsUpdated: 1}, sum)
}

func TestApply_ResolvesTeamRoleBeforeOverwrites(t *testing.T) {
	bp := mustParse(t, `
roles: [Team]
categories:
  - name: Staff
    channels:
      - name: internal
        flags: {staff_only: true}
`)
	g := guild.NewMemory(everyone, true)

	_, err := New("Team", "Bot", nil).Apply(context.Background(), g, bp)
	require.NoError(t, err)

	snap := snapshot(t, g)
	team, ok := snap.Role("Team")
	require.True(t, ok)
	ch, _ := snap.Channel(guild.KindText, "internal")
	assert.Equal(t, []guild.Overwrite{
		{SubjectID: everyone, Deny: guild.PermView},
		{SubjectID: team.ID, Allow: guild.PermView | guild.PermSend | guild.PermManageMessages},
	}, ch.Overwrites)
	assert.Equal(t, "create_role:Team", g.Calls()[0])
}

func TestApply_UpdateRetargetsAndKeepsTopic(t *testing.T) {
	g := guild.NewMemory(everyone, true)
	old := g.SeedCategory("Old")
	g.SeedChannel(guild.Channel{Name: "news", Kind: guild.KindText, ParentID: old.ID, Topic: "keep me"})
	g.SeedChannel(guild.Channel{Name: "faq", Kind: guild.KindText, ParentID: old.ID, Topic: "replace me"})
	bp := &blueprint.Blueprint{Categories: []blueprint.CategorySpec{{
		Name: "New",
		Channels: []blueprint.ChannelSpec{
			{Name: "news", Kind: guild.KindText},
			{Name: "faq", Kind: guild.KindText, Topic: strPtr("fresh")},
		},
	}}}

	sum, err := New("Team", "Bot", nil).Apply(context.Background(), g, bp)
	require.NoError(t, err)
	assert.Equal(t, Summary{CategoriesCreated: 1, ChannelsUpdated: 2}, sum)

	snap := snapshot(t, g)
	cat, _ := snap.Category("New")
	news, _ := snap.Channel(guild.KindText, "news")
	faq, _ := snap.Channel(guild.KindText, "faq")
	assert.Equal(t, cat.ID, news.ParentID)
	assert.Equal(t, "keep me", news.Topic)
	assert.Equal(t, "fresh", faq.Topic)
	assert.Equal(t, []guild.Overwrite{{SubjectID: everyone, Allow: guild.PermView | guild.PermSend}}, news.Overwrites)
}

func TestApply_KindChangeCreatesNewChannel(t *testing.T) {
	g := guild.NewMemory(everyone, true)
	cat := g.SeedCategory("General")
	g.SeedChannel(guild.Channel{Name: "lobby", Kind: guild.KindText, ParentID: cat.ID})
	bp := &blueprint.Blueprint{Categories: []blueprint.CategorySpec{{
		Name:     "General",
		Channels: []blueprint.ChannelSpec{{Name: "lobby", Kind: guild.KindVoice}},
	}}}

	sum, err := New("Team", "Bot", nil).Apply(context.Background(), g, bp)
	require.NoError(t, err)
	assert.Equal(t, Summary{ChannelsCreated: 1}, sum)

	snap := snapshot(t, g)
	_, textStill := snap.Channel(guild.KindText, "lobby")
	assert.True(t, textStill, "the old channel is never removed")
}

func TestApply_StageFallsBackToVoice(t *testing.T) {
	g := guild.NewMemory(everyone, false)
	bp := &blueprint.Blueprint{Categories: []blueprint.CategorySpec{{
		Name:     "Events",
		Channels: []blueprint.ChannelSpec{{Name: "town-hall", Kind: guild.KindStage}},
	}}}

	sum, err := New("Team", "Bot", nil).Apply(context.Background(), g, bp)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ChannelsCreated)

	snap := snapshot(t, g)
	_, ok := snap.Channel(guild.KindVoice, "town-hall")
	assert.True(t, ok)
	_, ok = snap.Channel(guild.KindStage, "town-hall")
	assert.False(t, ok)
}

func TestApply_StageSupported(t *testing.T) {
	g := guild.NewMemory(everyone, true)
	bp := &blueprint.Blueprint{Categories: []blueprint.CategorySpec{{
		Name:     "Events",
		Channels: []blueprint.ChannelSpec{{Name: "town-hall", Kind: guild.KindStage}},
	}}}

	_, err := New("Team", "Bot", nil).Apply(context.Background(), g, bp)
	require.NoError(t, err)

	_, ok := snapshot(t, g).Channel(guild.KindStage, "town-hall")
	assert.True(t, ok)
}

func TestApply_MutationErrorAborts(t *testing.T) {
	g := guild.NewMemory(everyone, true)
	rejected := errors.New("missing permissions")
	g.FailOn = func(op, name string) error {
		if op == "create_category" {
			return rejected
		}
		return nil
	}

	sum, err := New("Team", "Bot", nil).Apply(context.Background(), g, scenarioA())
	require.Error(t, err)
	assert.Equal(t, Summary{}, sum)

	var merr *MutationError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, OpCreateCategory, merr.Op)
	assert.Equal(t, "General", merr.Name)
	assert.ErrorIs(t, err, rejected)

	// The role created before the failure stays.
	_, ok := snapshot(t, g).Role("Team")
	assert.True(t, ok)
}

func TestApply_PacesOnlyAfterMutations(t *testing.T) {
	g := guild.NewMemory(everyone, true)
	g.SeedRole("Team")
	pacer := &countingPacer{}

	_, err := New("Team", "Bot", pacer).Apply(context.Background(), g, scenarioA())
	require.NoError(t, err)
	assert.Equal(t, len(g.Calls()), pacer.n)
	assert.Equal(t, 2, pacer.n)
}

func TestApply_PacesBeforeVoiceFallback(t *testing.T) {
	g := guild.NewMemory(everyone, false)
	bp := &blueprint.Blueprint{Categories: []blueprint.CategorySpec{{
		Name:     "Events",
		Channels: []blueprint.ChannelSpec{{Name: "town-hall", Kind: guild.KindStage}},
	}}}
	pacer := &countingPacer{}

	_, err := New("Team", "Bot", pacer).Apply(context.Background(), g, bp)
	require.NoError(t, err)
	assert.Equal(t, []string{"create_category:Events", "create_voice:town-hall"}, g.Calls())
	// category, the refused stage attempt, then the voice channel
	assert.Equal(t, 3, pacer.n)
}

func TestApply_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New("Team", "Bot", nil).Apply(ctx, guild.NewMemory(everyone, true), scenarioA())
	assert.ErrorIs(t, err, context.Canceled)
}

// Package discord implements guild.Guild on top of the Discord REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/guildsync/internal/guild"
)

// Discord error code for actions a guild's channel types do not allow.
const errCodeCannotExecuteOnChannelType = 50024

var _ guild.Guild = (*Client)(nil)

// Client talks to one guild. Every REST call passes through a client-side
// rate limiter in addition to discordgo's own bucket handling.
type Client struct {
	session *discordgo.Session
	guildID string
	limiter *rate.Limiter
}

// New creates a Client for a bot token and guild id.
func New(token, guildID string, timeout time.Duration, rateLimitRPS float64) (*Client, error) {
	if token == "" {
		return nil, errors.New("discord token is required")
	}
	if guildID == "" {
		return nil, errors.New("discord guild id is required")
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if rateLimitRPS == 0 {
		rateLimitRPS = 5.0
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Client = &http.Client{Timeout: timeout}
	session.UserAgent = "guildsync (https://github.com/dokzlo13/guildsync, 1.0)"

	burst := int(rateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		session: session,
		guildID: guildID,
		limiter: rate.NewLimiter(rate.Limit(rateLimitRPS), burst),
	}, nil
}

// Connect verifies the token and guild access.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	g, err := c.session.Guild(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to access guild %s: %w", c.guildID, err)
	}
	log.Info().Str("guild", g.Name).Str("id", g.ID).Msg("Connected to Discord guild")
	return nil
}

// Close releases idle HTTP connections.
func (c *Client) Close() error {
	c.session.Client.CloseIdleConnections()
	return nil
}

// Snapshot implements guild.Query.
func (c *Client) Snapshot(ctx context.Context) (guild.Snapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return guild.Snapshot{}, err
	}
	roles, err := c.session.GuildRoles(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return guild.Snapshot{}, fmt.Errorf("list roles: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return guild.Snapshot{}, err
	}
	channels, err := c.session.GuildChannels(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return guild.Snapshot{}, fmt.Errorf("list channels: %w", err)
	}

	snap := buildSnapshot(c.guildID, roles, channels)
	nRoles, nCategories, nChannels := snap.Counts()
	log.Debug().
		Int("roles", nRoles).
		Int("categories", nCategories).
		Int("channels", nChannels).
		Msg("Fetched live guild state")
	return snap, nil
}

// CreateRole implements guild.Gateway. Roles are created mentionable.
func (c *Client) CreateRole(ctx context.Context, name string) (guild.Role, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return guild.Role{}, err
	}
	mentionable := true
	r, err := c.session.GuildRoleCreate(c.guildID, &discordgo.RoleParams{
		Name:        name,
		Mentionable: &mentionable,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return guild.Role{}, err
	}
	return guild.Role{ID: r.ID, Name: r.Name}, nil
}

// CreateCategory implements guild.Gateway.
func (c *Client) CreateCategory(ctx context.Context, name string) (guild.Category, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return guild.Category{}, err
	}
	ch, err := c.session.GuildChannelCreateComplex(c.guildID, discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildCategory,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return guild.Category{}, err
	}
	return guild.Category{ID: ch.ID, Name: ch.Name}, nil
}

// CreateChannel implements guild.Gateway.
func (c *Client) CreateChannel(ctx context.Context, p guild.ChannelParams) (guild.Channel, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return guild.Channel{}, err
	}
	typ, ok := channelType(p.Kind)
	if !ok || p.Kind == guild.KindStage {
		return guild.Channel{}, fmt.Errorf("unsupported channel kind %q", p.Kind)
	}
	ch, err := c.session.GuildChannelCreateComplex(c.guildID, createData(p, typ), discordgo.WithContext(ctx))
	if err != nil {
		return guild.Channel{}, err
	}
	return fromChannel(ch), nil
}

// CreateStageChannel implements guild.Gateway. Stage channels require the
// COMMUNITY guild feature; without it nothing is created.
func (c *Client) CreateStageChannel(ctx context.Context, p guild.ChannelParams) (guild.Channel, bool, error) {
	supported, err := c.stageSupported(ctx)
	if err != nil {
		return guild.Channel{}, false, err
	}
	if !supported {
		return guild.Channel{}, false, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return guild.Channel{}, true, err
	}
	ch, err := c.session.GuildChannelCreateComplex(c.guildID, createData(p, discordgo.ChannelTypeGuildStageVoice), discordgo.WithContext(ctx))
	if err != nil {
		if isChannelTypeRejected(err) {
			return guild.Channel{}, false, nil
		}
		return guild.Channel{}, true, err
	}
	return fromChannel(ch), true, nil
}

// EditChannel implements guild.Gateway.
func (c *Client) EditChannel(ctx context.Context, id string, e guild.ChannelEdit) (guild.Channel, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return guild.Channel{}, err
	}
	data := &discordgo.ChannelEdit{ParentID: e.ParentID}
	if e.Topic != nil {
		data.Topic = *e.Topic
	}
	if e.Overwrites != nil {
		data.PermissionOverwrites = toOverwrites(e.Overwrites)
	}
	ch, err := c.session.ChannelEdit(id, data, discordgo.WithContext(ctx))
	if err != nil {
		return guild.Channel{}, err
	}
	return fromChannel(ch), nil
}

// SetOverwrite implements guild.Gateway.
func (c *Client) SetOverwrite(ctx context.Context, channelID string, o guild.Overwrite) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.session.ChannelPermissionSet(channelID, o.SubjectID, discordgo.PermissionOverwriteTypeRole,
		toPermissions(o.Allow), toPermissions(o.Deny), discordgo.WithContext(ctx))
}

func (c *Client) stageSupported(ctx context.Context) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}
	g, err := c.session.Guild(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("read guild features: %w", err)
	}
	for _, f := range g.Features {
		if string(f) == "COMMUNITY" {
			return true, nil
		}
	}
	return false, nil
}

func isChannelTypeRejected(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	return restErr.Message.Code == errCodeCannotExecuteOnChannelType
}

func createData(p guild.ChannelParams, typ discordgo.ChannelType) discordgo.GuildChannelCreateData {
	return discordgo.GuildChannelCreateData{
		Name:                 p.Name,
		Type:                 typ,
		Topic:                p.Topic,
		ParentID:             p.ParentID,
		PermissionOverwrites: toOverwrites(p.Overwrites),
	}
}

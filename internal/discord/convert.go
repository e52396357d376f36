package discord

import (
	"strings"
	"unicode"

	"github.com/bwmarrin/discordgo"

	"github.com/dokzlo13/guildsync/internal/guild"
)

var permissionBits = []struct {
	local   guild.Permissions
	discord int64
}{
	{guild.PermView, discordgo.PermissionViewChannel},
	{guild.PermSend, discordgo.PermissionSendMessages},
	{guild.PermManageMessages, discordgo.PermissionManageMessages},
}

func toPermissions(p guild.Permissions) int64 {
	var out int64
	for _, b := range permissionBits {
		if p.Has(b.local) {
			out |= b.discord
		}
	}
	return out
}

func fromPermissions(p int64) guild.Permissions {
	var out guild.Permissions
	for _, b := range permissionBits {
		if p&b.discord != 0 {
			out |= b.local
		}
	}
	return out
}

// toOverwrites converts role overwrites. All managed subjects are roles
// (the everyone role shares the guild id).
func toOverwrites(ows []guild.Overwrite) []*discordgo.PermissionOverwrite {
	if ows == nil {
		return nil
	}
	out := make([]*discordgo.PermissionOverwrite, 0, len(ows))
	for _, o := range ows {
		out = append(out, &discordgo.PermissionOverwrite{
			ID:    o.SubjectID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: toPermissions(o.Allow),
			Deny:  toPermissions(o.Deny),
		})
	}
	return out
}

func channelType(k guild.Kind) (discordgo.ChannelType, bool) {
	switch k {
	case guild.KindText:
		return discordgo.ChannelTypeGuildText, true
	case guild.KindVoice:
		return discordgo.ChannelTypeGuildVoice, true
	case guild.KindStage:
		return discordgo.ChannelTypeGuildStageVoice, true
	default:
		return 0, false
	}
}

func channelKind(t discordgo.ChannelType) (guild.Kind, bool) {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return guild.KindText, true
	case discordgo.ChannelTypeGuildVoice:
		return guild.KindVoice, true
	case discordgo.ChannelTypeGuildStageVoice:
		return guild.KindStage, true
	default:
		return "", false
	}
}

func fromChannel(ch *discordgo.Channel) guild.Channel {
	kind, _ := channelKind(ch.Type)
	out := guild.Channel{
		ID:       ch.ID,
		Name:     ch.Name,
		Kind:     kind,
		ParentID: ch.ParentID,
		Topic:    ch.Topic,
	}
	for _, o := range ch.PermissionOverwrites {
		out.Overwrites = append(out.Overwrites, guild.Overwrite{
			SubjectID: o.ID,
			Allow:     fromPermissions(o.Allow),
			Deny:      fromPermissions(o.Deny),
		})
	}
	return out
}

// buildSnapshot indexes roles and channels by name. Discord returns them
// in API order; the first of several same-named entities wins.
// ChannelName returns the name Discord stores for a channel created as
// name. Text channel names are lowercased with whitespace runs turned into
// a single '-'; voice and stage names are kept as given.
func ChannelName(kind guild.Kind, name string) string {
	if kind != guild.KindText {
		return name
	}
	return strings.Join(strings.FieldsFunc(strings.ToLower(name), unicode.IsSpace), "-")
}

func buildSnapshot(guildID string, roles []*discordgo.Role, channels []*discordgo.Channel) guild.Snapshot {
	snap := guild.NewSnapshot(guildID)
	snap.SetChannelNames(ChannelName)
	for _, r := range roles {
		snap.AddRole(guild.Role{ID: r.ID, Name: r.Name})
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory {
			snap.AddCategory(guild.Category{ID: ch.ID, Name: ch.Name})
			continue
		}
		if _, ok := channelKind(ch.Type); !ok {
			continue
		}
		snap.AddChannel(fromChannel(ch))
	}
	return snap
}

package reconcile

import (
	"github.com/dokzlo13/guildsync/internal/blueprint"
	"github.com/dokzlo13/guildsync/internal/guild"
)

const (
	viewSend       = guild.PermView | guild.PermSend
	viewSendManage = guild.PermView | guild.PermSend | guild.PermManageMessages
)

// Overwrites computes the permission overwrites of a text channel.
// Empty teamID or botID means the role is not resolved and gets no entry.
// staff_only is evaluated after readonly and replaces its entries.
// The result is ordered everyone, team, bot.
func Overwrites(flags blueprint.Flags, everyoneID, teamID, botID string) []guild.Overwrite {
	everyone := guild.Overwrite{SubjectID: everyoneID, Allow: viewSend}
	var team, bot *guild.Overwrite

	if flags.Readonly {
		everyone = guild.Overwrite{SubjectID: everyoneID, Allow: guild.PermView, Deny: guild.PermSend}
		if teamID != "" {
			team = &guild.Overwrite{SubjectID: teamID, Allow: viewSendManage}
		}
		if flags.AllowBotPost && botID != "" {
			bot = &guild.Overwrite{SubjectID: botID, Allow: viewSend}
		}
	}
	if flags.StaffOnly {
		everyone = guild.Overwrite{SubjectID: everyoneID, Deny: guild.PermView}
		if teamID != "" {
			team = &guild.Overwrite{SubjectID: teamID, Allow: viewSendManage}
		}
		if botID != "" {
			bot = &guild.Overwrite{SubjectID: botID, Allow: viewSend}
		}
	}

	out := []guild.Overwrite{everyone}
	if team != nil {
		out = append(out, *team)
	}
	if bot != nil && (team == nil || bot.SubjectID != team.SubjectID) {
		out = append(out, *bot)
	}
	return out
}

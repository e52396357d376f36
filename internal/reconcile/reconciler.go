package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/guildsync/internal/blueprint"
	"github.com/dokzlo13/guildsync/internal/guild"
)

// Reconciler makes a guild match a blueprint.
// It is not safe to run two Applies against the same guild concurrently;
// callers serialize per target.
type Reconciler struct {
	teamRole string
	botRole  string
	pacer    Pacer
}

// New creates a Reconciler. teamRole and botRole name the roles that
// receive elevated overwrites on restricted text channels.
func New(teamRole, botRole string, pacer Pacer) *Reconciler {
	if pacer == nil {
		pacer = FixedPacer(0)
	}
	return &Reconciler{
		teamRole: teamRole,
		botRole:  botRole,
		pacer:    pacer,
	}
}

// Apply creates missing roles, categories and channels and updates
// existing channels in place. It never deletes. On the first rejected
// mutation it stops and returns a *MutationError; mutations already made
// stay in place.
func (r *Reconciler) Apply(ctx context.Context, g guild.Guild, bp *blueprint.Blueprint) (Summary, error) {
	live, err := g.Snapshot(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("read live state: %w", err)
	}
	work := live.Clone()

	var sum Summary

	// Roles first: overwrites below reference them.
	for _, name := range bp.Roles {
		if _, ok := work.Role(name); ok {
			continue
		}
		role, err := g.CreateRole(ctx, name)
		if err != nil {
			return Summary{}, &MutationError{Op: OpCreateRole, Name: name, Err: err}
		}
		log.Info().Str("role", name).Str("id", role.ID).Msg("Created role")
		work.AddRole(role)
		sum.RolesCreated++
		if err := r.pacer.Pace(ctx); err != nil {
			return Summary{}, err
		}
	}

	teamID, botID := r.privilegedRoles(work)

	for _, cat := range bp.Categories {
		if cat.Name == "" {
			log.Warn().Msg("Skipping category without a name")
			continue
		}

		category, ok := work.Category(cat.Name)
		if !ok {
			category, err = g.CreateCategory(ctx, cat.Name)
			if err != nil {
				return Summary{}, &MutationError{Op: OpCreateCategory, Name: cat.Name, Err: err}
			}
			log.Info().Str("category", cat.Name).Str("id", category.ID).Msg("Created category")
			work.AddCategory(category)
			sum.CategoriesCreated++
			if err := r.pacer.Pace(ctx); err != nil {
				return Summary{}, err
			}
		}

		for _, spec := range cat.Channels {
			if spec.Name == "" {
				log.Warn().Str("category", cat.Name).Msg("Skipping channel without a name")
				continue
			}
			created, err := r.ensureChannel(ctx, g, &work, category, spec, teamID, botID)
			if err != nil {
				return Summary{}, err
			}
			if created {
				sum.ChannelsCreated++
			} else {
				sum.ChannelsUpdated++
			}
			if err := r.pacer.Pace(ctx); err != nil {
				return Summary{}, err
			}
		}
	}

	return sum, nil
}

// privilegedRoles resolves the team and bot role ids; empty when absent.
func (r *Reconciler) privilegedRoles(snap guild.Snapshot) (teamID, botID string) {
	if role, ok := snap.Role(r.teamRole); ok && r.teamRole != "" {
		teamID = role.ID
	}
	if role, ok := snap.Role(r.botRole); ok && r.botRole != "" {
		botID = role.ID
	}
	if teamID == "" {
		log.Debug().Str("role", r.teamRole).Msg("Team role not resolved, restricted channels get no team overwrite")
	}
	return teamID, botID
}

func (r *Reconciler) ensureChannel(
	ctx context.Context,
	g guild.Guild,
	work *guild.Snapshot,
	category guild.Category,
	spec blueprint.ChannelSpec,
	teamID, botID string,
) (created bool, err error) {
	var overwrites []guild.Overwrite
	if spec.Kind == guild.KindText {
		overwrites = Overwrites(spec.Flags, work.EveryoneID, teamID, botID)
	}

	if existing, ok := findChannel(*work, spec.Kind, spec.Name); ok {
		edit := guild.ChannelEdit{ParentID: category.ID, Overwrites: overwrites}
		if spec.Kind == guild.KindText {
			edit.Topic = spec.Topic
		}
		updated, err := g.EditChannel(ctx, existing.ID, edit)
		if err != nil {
			return false, &MutationError{Op: OpEditChannel, Name: spec.Name, Err: err}
		}
		log.Debug().
			Str("channel", spec.Name).
			Str("kind", string(existing.Kind)).
			Str("category", category.Name).
			Msg("Updated channel")
		work.PutChannel(updated)
		return false, nil
	}

	params := guild.ChannelParams{
		Name:       spec.Name,
		Kind:       spec.Kind,
		ParentID:   category.ID,
		Overwrites: overwrites,
	}
	if spec.Kind == guild.KindText && spec.Topic != nil {
		params.Topic = *spec.Topic
	}

	var ch guild.Channel
	if spec.Kind == guild.KindStage {
		var supported bool
		ch, supported, err = g.CreateStageChannel(ctx, params)
		if err == nil && !supported {
			log.Warn().Str("channel", spec.Name).Msg("Stage channels not supported, creating voice channel instead")
			// The stage attempt may already have spent a request.
			if err := r.pacer.Pace(ctx); err != nil {
				return false, err
			}
			params.Kind = guild.KindVoice
			ch, err = g.CreateChannel(ctx, params)
		}
	} else {
		ch, err = g.CreateChannel(ctx, params)
	}
	if err != nil {
		return false, &MutationError{Op: OpCreateChannel, Name: spec.Name, Err: err}
	}

	log.Info().
		Str("channel", spec.Name).
		Str("kind", string(ch.Kind)).
		Str("category", category.Name).
		Str("id", ch.ID).
		Msg("Created channel")
	work.PutChannel(ch)
	return true, nil
}

// findChannel is the existence test shared by Apply and Plan. Kinds are
// separate namespaces, except that a stage spec also matches a voice
// channel of the same name, which is what the stage fallback creates.
// Such a stage spec is applied as an edit of the voice channel, and Plan
// marks the line with the voice kind.
func findChannel(snap guild.Snapshot, kind guild.Kind, name string) (guild.Channel, bool) {
	if ch, ok := snap.Channel(kind, name); ok {
		return ch, true
	}
	if kind == guild.KindStage {
		return snap.Channel(guild.KindVoice, name)
	}
	return guild.Channel{}, false
}

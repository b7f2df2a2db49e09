// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/aion/pkg/character"
	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/storage"
)

const (
	ActionReply  = "REPLY"
	ActionIgnore = "IGNORE"
	ActionNone   = "NONE"

	ProviderCharacter      = "CHARACTER"
	ProviderActions        = "ACTIONS"
	ProviderRecentMessages = "RECENT_MESSAGES"

	// ParamResponseText carries the parsed reply text to action handlers.
	ParamResponseText = "responseText"
	// ParamThought carries the parsed model thought to action handlers.
	ParamThought = "thought"

	defaultRecentMessages = 20
)

// bootstrap returns the built-in components every runtime starts with.
// Plugins may replace them by registering components with the same names.
func (r *Runtime) bootstrap() *core.Plugin {
	return &core.Plugin{
		Name:        "bootstrap",
		Description: "built-in reply actions and context providers",
		Actions: []core.Action{
			&core.ActionSpec{
				ActionName: ActionReply,
				Summary:    "Reply to the current message with the generated text.",
				Aliases:    []string{"RESPOND", "ANSWER"},
				HandleFunc: r.reply,
			},
			&core.ActionSpec{
				ActionName: ActionIgnore,
				Summary:    "Ignore the message and end the conversation turn.",
				Aliases:    []string{"STOP_TALKING"},
			},
			&core.ActionSpec{
				ActionName: ActionNone,
				Summary:    "Take no additional action.",
				Aliases:    []string{"NO_ACTION"},
			},
		},
		Providers: []core.Provider{
			&core.ProviderSpec{
				ProviderName: ProviderCharacter,
				Summary:      "Persona of the agent.",
				Order:        -100,
				GetFunc: func(context.Context, *core.Memory, *core.State) (core.ProviderResult, error) {
					return core.ProviderResult{
						Text:   character.Summary(r.character),
						Values: map[string]any{"agentName": r.character.Name},
					}, nil
				},
			},
			&core.ProviderSpec{
				ProviderName: ProviderRecentMessages,
				Summary:      "Recent messages of the room.",
				Order:        -50,
				GetFunc:      r.recentMessagesProvider,
			},
			&core.ProviderSpec{
				ProviderName: ProviderActions,
				Summary:      "Actions the agent can take.",
				Order:        100,
				GetFunc:      r.actionsProvider,
			},
		},
	}
}

func (r *Runtime) reply(ctx context.Context, msg *core.Memory, _ *core.State, opts core.HandlerOptions, cb core.HandlerCallback) (*core.ActionResult, error) {
	text, _ := opts.Parameters[ParamResponseText].(string)
	thought, _ := opts.Parameters[ParamThought].(string)
	if text == "" {
		return &core.ActionResult{ActionName: ActionReply, Success: false, Error: "no reply text"}, nil
	}
	if cb != nil {
		if err := cb(ctx, core.Content{
			Text:      text,
			Thought:   thought,
			Actions:   []string{ActionReply},
			InReplyTo: msg.ID,
		}); err != nil {
			return nil, fmt.Errorf("deliver reply: %w", err)
		}
	}
	return &core.ActionResult{ActionName: ActionReply, Success: true, Text: text}, nil
}

func (r *Runtime) actionsProvider(context.Context, *core.Memory, *core.State) (core.ProviderResult, error) {
	actions := r.reg.Actions()
	names := make([]string, 0, len(actions))
	var b strings.Builder
	b.WriteString("# Available Actions\n")
	for _, a := range actions {
		names = append(names, a.Name())
		fmt.Fprintf(&b, "- %s: %s\n", a.Name(), a.Description())
	}
	return core.ProviderResult{
		Text:   strings.TrimRight(b.String(), "\n"),
		Values: map[string]any{"actionNames": strings.Join(names, ", ")},
	}, nil
}

func (r *Runtime) recentMessagesProvider(ctx context.Context, msg *core.Memory, _ *core.State) (core.ProviderResult, error) {
	if r.store == nil || r.recentMessages <= 0 {
		return core.ProviderResult{}, nil
	}
	memories, err := r.store.GetMemories(ctx, storage.Query{RoomID: msg.RoomID, Count: r.recentMessages})
	if err != nil {
		return core.ProviderResult{}, err
	}
	if len(memories) == 0 {
		return core.ProviderResult{}, nil
	}
	var b strings.Builder
	b.WriteString("# Conversation\n")
	for _, m := range memories {
		if m.ID == msg.ID {
			continue
		}
		speaker := m.EntityID
		if m.EntityID == r.agentID {
			speaker = r.character.Name
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content.Text)
	}
	return core.ProviderResult{
		Text: strings.TrimRight(b.String(), "\n"),
		Data: map[string]any{"count": len(memories)},
	}, nil
}

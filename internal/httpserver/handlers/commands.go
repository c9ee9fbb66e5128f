package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/linktags/internal/commands"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
	"github.com/MrSnakeDoc/linktags/internal/logger"
)

// commandRequest describes one tag edit. Tags may be given as a list or
// as comma separated text.
type commandRequest struct {
	Type       string   `json:"type"` // add | remove | rename
	URLs       []string `json:"urls"`
	Tags       []string `json:"tags,omitempty"`
	Text       string   `json:"text,omitempty"`
	SourceTags []string `json:"sourceTags,omitempty"`
	TargetTags []string `json:"targetTags,omitempty"`
	SourceText string   `json:"sourceText,omitempty"`
	TargetText string   `json:"targetText,omitempty"`
}

type batchRequest struct {
	// Label, when set, groups the commands into one undoable step.
	Label    string           `json:"label,omitempty"`
	Commands []commandRequest `json:"commands"`
}

type executionResponse struct {
	Type          string   `json:"type"`
	Description   string   `json:"description"`
	AffectedCount int      `json:"affectedCount"`
	DeletedCount  int      `json:"deletedCount"`
	ChangedURLs   []string `json:"changedUrls"`
}

type commandsResponse struct {
	Results []executionResponse `json:"results"`
	CanUndo bool                `json:"canUndo"`
	CanRedo bool                `json:"canRedo"`
}

func (c commandRequest) build(opts ...commands.Option) (commands.Command, error) {
	if len(c.URLs) == 0 {
		return nil, fmt.Errorf("command %q has no urls", c.Type)
	}
	switch strings.ToLower(c.Type) {
	case commands.TypeAdd:
		if c.Text != "" {
			return commands.NewAddTagCommandFromText(c.URLs, c.Text, opts...), nil
		}
		return commands.NewAddTagCommand(c.URLs, c.Tags, opts...), nil
	case commands.TypeRemove:
		if c.Text != "" {
			return commands.NewRemoveTagCommandFromText(c.URLs, c.Text, opts...), nil
		}
		return commands.NewRemoveTagCommand(c.URLs, c.Tags, opts...), nil
	case commands.TypeRename:
		if c.SourceText != "" || c.TargetText != "" {
			return commands.NewRenameTagCommandFromText(c.URLs, c.SourceText, c.TargetText, opts...), nil
		}
		return commands.NewRenameTagCommand(c.URLs, c.SourceTags, c.TargetTags, opts...), nil
	default:
		return nil, fmt.Errorf("unknown command type %q", c.Type)
	}
}

func toResponse(cmd commands.Command, res *commands.ExecutionResult) executionResponse {
	out := executionResponse{Type: cmd.Type(), Description: cmd.Description(), ChangedURLs: []string{}}
	if res != nil {
		out.AffectedCount = res.AffectedCount
		out.DeletedCount = res.DeletedCount
		out.ChangedURLs = res.ChangedURLs()
	}
	return out
}

// ExecuteCommand runs one tag command.
func ExecuteCommand(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req commandRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cmd, err := req.build(commands.WithClock(d.Now))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := d.Commands.ExecuteCommand(r.Context(), cmd)
		if err != nil {
			d.Logger.Warn("command failed", logger.String("type", cmd.Type()), logger.Error(err))
			writeError(w, statusFor(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, commandsResponse{
			Results: []executionResponse{toResponse(cmd, res)},
			CanUndo: d.Commands.CanUndo(),
			CanRedo: d.Commands.CanRedo(),
		})
	}
}

// ExecuteBatch runs several commands against one working set. With a label
// they are recorded as a single composite history step.
func ExecuteBatch(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(req.Commands) == 0 {
			writeError(w, http.StatusBadRequest, "batch has no commands")
			return
		}

		cmds := make([]commands.Command, 0, len(req.Commands))
		for i, c := range req.Commands {
			cmd, err := c.build(commands.WithClock(d.Now))
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("command %d: %v", i, err))
				return
			}
			cmds = append(cmds, cmd)
		}

		var results []executionResponse
		if req.Label != "" {
			composite := commands.NewCompositeTagCommand(req.Label, cmds...)
			res, err := d.Commands.ExecuteCommand(r.Context(), composite)
			if err != nil {
				writeError(w, statusFor(err), err.Error())
				return
			}
			results = []executionResponse{toResponse(composite, res)}
		} else {
			res, err := d.Commands.ExecuteBatch(r.Context(), cmds)
			if err != nil {
				writeError(w, statusFor(err), err.Error())
				return
			}
			for i, cmd := range cmds {
				results = append(results, toResponse(cmd, res[i]))
			}
		}

		writeJSON(w, http.StatusOK, commandsResponse{
			Results: results,
			CanUndo: d.Commands.CanUndo(),
			CanRedo: d.Commands.CanRedo(),
		})
	}
}

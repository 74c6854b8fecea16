package messages

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTemplates []byte

// Category names one reply the bot can post.
type Category string

const (
	IncludeBasic             Category = "include_basic"
	CorrectScoring           Category = "correct_scoring"
	Exclude                  Category = "exclude"
	Pause                    Category = "pause"
	Unpause                  Category = "unpause"
	MergeWithoutScore        Category = "merge_without_score"
	Final                    Category = "final"
	Stale                    Category = "stale"
	ErrorRightsViolation     Category = "error_rights_violation"
	ErrorSelfScore           Category = "error_self_score"
	ErrorInvalidScore        Category = "error_invalid_score"
	ErrorLateScoring         Category = "error_late_scoring"
	ErrorLateExclude         Category = "error_late_exclude"
	ErrorPausePaused         Category = "error_pause_paused"
	ErrorUnpauseUnpaused     Category = "error_unpause_unpaused"
	ErrorOrgNotInAllowedList Category = "error_org_not_in_allowed_list"
)

// Categories lists every category a template set must define.
var Categories = []Category{
	IncludeBasic, CorrectScoring, Exclude, Pause, Unpause, MergeWithoutScore,
	Final, Stale, ErrorRightsViolation, ErrorSelfScore, ErrorInvalidScore,
	ErrorLateScoring, ErrorLateExclude, ErrorPausePaused, ErrorUnpauseUnpaused,
	ErrorOrgNotInAllowedList,
}

// Vars are template substitutions keyed by placeholder name.
type Vars map[string]string

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

type file struct {
	Link            string              `yaml:"link"`
	LeaderboardLink string              `yaml:"leaderboard_link"`
	Form            string              `yaml:"form"`
	Messages        map[Category]string `yaml:"messages"`
}

// Set is an immutable set of reply templates, loaded once at startup.
type Set struct {
	templates map[Category]string
}

// Load parses the embedded templates, then overlays the file at overridePath
// when it is non-empty. Globals (bot name, links) are substituted right away
// so Render only deals with per-reply values.
func Load(overridePath string, globals Vars) (*Set, error) {
	var base file
	if err := yaml.Unmarshal(defaultTemplates, &base); err != nil {
		return nil, fmt.Errorf("parsing default templates: %w", err)
	}

	if overridePath != "" {
		raw, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("reading templates %s: %w", overridePath, err)
		}
		var override file
		if err := yaml.Unmarshal(raw, &override); err != nil {
			return nil, fmt.Errorf("parsing templates %s: %w", overridePath, err)
		}
		for c, t := range override.Messages {
			base.Messages[c] = t
		}
		if override.Link != "" {
			base.Link = override.Link
		}
		if override.LeaderboardLink != "" {
			base.LeaderboardLink = override.LeaderboardLink
		}
		if override.Form != "" {
			base.Form = override.Form
		}
	}

	for _, c := range Categories {
		if strings.TrimSpace(base.Messages[c]) == "" {
			return nil, fmt.Errorf("template %q is missing", c)
		}
	}

	// File-level links may themselves reference globals, e.g. link: "{link}".
	links := Vars{
		"link":             substitute(base.Link, globals, nil),
		"leaderboard_link": substitute(base.LeaderboardLink, globals, nil),
		"form":             substitute(base.Form, globals, nil),
	}
	for k, v := range globals {
		if _, ok := links[k]; !ok {
			links[k] = v
		}
	}

	set := &Set{templates: make(map[Category]string, len(base.Messages))}
	for c, t := range base.Messages {
		set.templates[c] = strings.TrimSpace(substitute(t, links, nil))
	}
	return set, nil
}

// Render fills the template for c. A placeholder without a value is left in
// place and logged; rendering never fails.
func (s *Set) Render(ctx context.Context, c Category, vars Vars) string {
	t, ok := s.templates[c]
	if !ok {
		slog.WarnContext(ctx, "unknown message category", "category", string(c))
		return ""
	}
	return substitute(t, vars, func(name string) {
		slog.WarnContext(ctx, "message variable not provided",
			"category", string(c),
			"variable", name)
	})
}

func substitute(t string, vars Vars, missing func(name string)) string {
	return placeholder.ReplaceAllStringFunc(t, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		if missing != nil {
			missing(name)
		}
		return m
	})
}

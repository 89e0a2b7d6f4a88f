package peloton

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// BoardConfig is the versioned, static description of one Peloton board:
// which project to sync, which repositories feed it, and how roles map to
// board field names. It is supplied as a YAML file argument; the routine
// never computes any of it.
type BoardConfig struct {
	// ProjectID is the ProjectV2 node ID of the board.
	ProjectID string `yaml:"project_id"`

	// Repositories lists owner/name repositories whose items qualify for
	// the board.
	Repositories []string `yaml:"repositories"`

	// SearchConditions are extra GitHub search qualifiers appended to the
	// generated query (e.g. "org:SciTools -repo:SciTools/cartopy").
	SearchConditions string `yaml:"search_conditions,omitempty"`

	// ClosedThresholdDays keeps recently closed items on the board: the
	// query excludes only items closed earlier than this many days ago.
	ClosedThresholdDays int `yaml:"closed_threshold_days,omitempty"`

	// PageSize tunes GraphQL pagination (max 100). Smaller pages trade
	// more round-trips for smaller payloads when the API times out.
	PageSize int `yaml:"page_size,omitempty"`

	Team TeamConfig `yaml:"team"`

	// BotOverrides are logins always classified as bots regardless of
	// what GitHub reports for them.
	BotOverrides []string `yaml:"bot_overrides,omitempty"`

	// DiscussionLabelPattern marks issues whose labels match it as
	// wanting discussion.
	DiscussionLabelPattern string `yaml:"discussion_label_pattern,omitempty"`

	// Fields maps field roles to the board's field names. Unset roles
	// fall back to the standard Peloton names.
	Fields map[FieldRole]string `yaml:"fields,omitempty"`
}

// TeamConfig identifies the GitHub team whose members count as board
// members, plus any logins treated as members without team membership.
type TeamConfig struct {
	Organization string   `yaml:"organization"`
	Slug         string   `yaml:"slug"`
	ExtraMembers []string `yaml:"extra_members,omitempty"`
}

// Defaults applied by Normalize.
const (
	DefaultPageSize            = 100
	DefaultClosedThresholdDays = 28
	DefaultDiscussionPattern   = `decision|help|discussion`
)

// defaultFieldNames are the standard Peloton board column names.
var defaultFieldNames = map[FieldRole]string{
	RoleLink:                "_linked_id",
	RoleDateCreated:         "Date Created",
	RoleDateUpdated:         "Date Updated",
	RoleDateClosed:          "Date Closed",
	RoleAuthorLogin:         "Author Login",
	RoleAuthorMembership:    "Author Membership",
	RoleFinalCommentLogin:   "Final Comment Login",
	RoleFinalCommentTime:    "Final Comment Time",
	RoleCommenterMembership: "Commenter Membership",
	RoleNumComments:         "Num Comments",
	RoleVotes:               "Votes",
	RoleAssignees:           "Assignees",
	RoleMilestone:           "Milestone",
	RoleDiscussionWanted:    "Discussion Wanted",
	RoleNextDate:            "Next Peloton Date",
}

// LoadBoardConfig reads and validates a board configuration file.
func LoadBoardConfig(path string) (*BoardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read board config: %w", err)
	}

	var cfg BoardConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse board config: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Normalize fills unset values with defaults.
func (c *BoardConfig) Normalize() {
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.ClosedThresholdDays == 0 {
		c.ClosedThresholdDays = DefaultClosedThresholdDays
	}
	if c.DiscussionLabelPattern == "" {
		c.DiscussionLabelPattern = DefaultDiscussionPattern
	}
	if c.Fields == nil {
		c.Fields = make(map[FieldRole]string)
	}
	for role, name := range defaultFieldNames {
		if c.Fields[role] == "" {
			c.Fields[role] = name
		}
	}
}

// FieldName returns the board field name for a role.
func (c *BoardConfig) FieldName(role FieldRole) string {
	if name, ok := c.Fields[role]; ok {
		return name
	}
	return defaultFieldNames[role]
}

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+/[A-Za-z0-9._-]+$`)

// Validate checks the configuration for problems that would make a sync
// cycle fail or silently do the wrong thing.
func (c *BoardConfig) Validate() error {
	var errs ValidationErrors

	if c.ProjectID == "" {
		errs.Add("project_id", "", "project ID is required")
	} else if !strings.HasPrefix(c.ProjectID, "PVT_") {
		errs.Add("project_id", c.ProjectID, "project ID must be a ProjectV2 node ID (PVT_...)")
	}

	if len(c.Repositories) == 0 && c.SearchConditions == "" {
		errs.Add("repositories", "", "at least one repository or a search_conditions entry is required")
	}
	for _, repo := range c.Repositories {
		if !repoPattern.MatchString(repo) {
			errs.Add("repositories", repo, "repository must be in owner/name form")
		}
	}

	if c.PageSize < 1 || c.PageSize > 100 {
		errs.Add("page_size", fmt.Sprintf("%d", c.PageSize), "page size must be between 1 and 100")
	}

	if c.ClosedThresholdDays < 0 {
		errs.Add("closed_threshold_days", fmt.Sprintf("%d", c.ClosedThresholdDays), "closed threshold cannot be negative")
	}

	if c.Team.Organization == "" || c.Team.Slug == "" {
		errs.Add("team", "", "team organization and slug are required for membership classification")
	}

	if _, err := regexp.Compile(c.DiscussionLabelPattern); err != nil {
		errs.Add("discussion_label_pattern", c.DiscussionLabelPattern, "invalid regular expression")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidationError describes one invalid board config entry.
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation error for field '%s' (value: %s): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors collects validation failures so a bad config reports
// everything wrong in one pass.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	messages := make([]string, 0, len(e))
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e), strings.Join(messages, "; "))
}

// Add appends a validation error.
func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, ValidationError{Field: field, Value: value, Message: message})
}

// HasErrors reports whether any validation errors were recorded.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

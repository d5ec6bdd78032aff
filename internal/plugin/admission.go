package plugin

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"plugin-jobs/internal/config"
	"plugin-jobs/internal/sandbox"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrRejected       = errors.New("request rejected")
)

// Rejection reasons, also used as metric labels.
const (
	ReasonDisabled      = "disabled"
	ReasonBlocked       = "blocked"
	ReasonNotAllowed    = "not_allowed"
	ReasonMissingRole   = "missing_role"
	ReasonGuildOnly     = "guild_only"
	ReasonInvalidParams = "invalid_params"
	ReasonCooldown      = "cooldown"
)

// RejectionError is returned when an invocation is refused before any job exists.
type RejectionError struct {
	Plugin  string
	Reason  string
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

// Invocation is one command call from a user.
type Invocation struct {
	Command string            `json:"command"`
	UserID  string            `json:"user_id"`
	GuildID string            `json:"guild_id,omitempty"`
	Roles   []string          `json:"roles,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// checkAccess applies the plugin's security rules to the caller.
func checkAccess(p config.Plugin, inv Invocation) *RejectionError {
	sec := p.Security
	switch {
	case !p.IsEnabled():
		return &RejectionError{p.Name, ReasonDisabled, fmt.Sprintf("Plugin %s is disabled", p.Name)}
	case slices.Contains(sec.BlockedUsers, inv.UserID):
		return &RejectionError{p.Name, ReasonBlocked, "You are blocked from using this plugin"}
	case len(sec.AllowedUsers) > 0 && !slices.Contains(sec.AllowedUsers, inv.UserID):
		return &RejectionError{p.Name, ReasonNotAllowed, "You are not authorized to use this plugin"}
	case len(sec.AllowedRoles) > 0 && !slices.ContainsFunc(inv.Roles, func(r string) bool { return slices.Contains(sec.AllowedRoles, r) }):
		return &RejectionError{p.Name, ReasonMissingRole, "You don't have a required role to use this plugin"}
	case sec.GuildOnly && strings.TrimSpace(inv.GuildID) == "":
		return &RejectionError{p.Name, ReasonGuildOnly, "This command can only be used in a server"}
	}
	return nil
}

// validateParams returns the declared options only, with defaults filled in.
func validateParams(p config.Plugin, given map[string]string) (map[string]string, *RejectionError) {
	reject := func(format string, args ...any) *RejectionError {
		return &RejectionError{p.Name, ReasonInvalidParams, fmt.Sprintf(format, args...)}
	}

	out := make(map[string]string, len(p.Command.Options))
	for _, opt := range p.Command.Options {
		val, ok := given[opt.Name]
		if ok {
			val = strings.TrimSpace(val)
			ok = val != ""
		}
		if !ok && opt.Default != nil {
			val, ok = *opt.Default, true
		}
		if !ok {
			if opt.Required {
				return nil, reject("Missing required parameter: %s", opt.Name)
			}
			continue
		}

		if err := sandbox.ValidateArgument(val); err != nil {
			return nil, reject("Parameter '%s' is invalid: %v", opt.Name, err)
		}
		if len(opt.Choices) > 0 {
			values := make([]string, 0, len(opt.Choices))
			for _, c := range opt.Choices {
				values = append(values, c.Value)
			}
			if !slices.Contains(values, val) {
				return nil, reject("Parameter '%s' must be one of: %s", opt.Name, strings.Join(values, ", "))
			}
		}
		if rej := checkType(opt, val, reject); rej != nil {
			return nil, rej
		}
		if rej := checkRule(opt, val, reject); rej != nil {
			return nil, rej
		}
		out[opt.Name] = val
	}
	return out, nil
}

func checkType(opt config.CommandOption, val string, reject func(string, ...any) *RejectionError) *RejectionError {
	switch strings.ToLower(opt.Type) {
	case "integer":
		if _, err := strconv.ParseInt(val, 10, 64); err != nil {
			return reject("Parameter '%s' must be a whole number", opt.Name)
		}
	case "number":
		if f, err := strconv.ParseFloat(val, 64); err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return reject("Parameter '%s' must be a number", opt.Name)
		}
	case "boolean":
		if _, err := strconv.ParseBool(val); err != nil {
			return reject("Parameter '%s' must be true or false", opt.Name)
		}
	}
	return nil
}

func checkRule(opt config.CommandOption, val string, reject func(string, ...any) *RejectionError) *RejectionError {
	rule := opt.Validation
	if rule == nil {
		return nil
	}
	if rule.Pattern != "" {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil || !re.MatchString(val) {
			return reject("Parameter '%s' does not match required format", opt.Name)
		}
	}
	n := utf8.RuneCountInString(val)
	if rule.MinLength != nil && n < *rule.MinLength {
		return reject("Parameter '%s' must be at least %d characters", opt.Name, *rule.MinLength)
	}
	if rule.MaxLength != nil && n > *rule.MaxLength {
		return reject("Parameter '%s' must be at most %d characters", opt.Name, *rule.MaxLength)
	}
	if rule.MinValue != nil || rule.MaxValue != nil {
		num, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return reject("Parameter '%s' must be a whole number", opt.Name)
		}
		if rule.MinValue != nil && num < *rule.MinValue {
			return reject("Parameter '%s' must be at least %d", opt.Name, *rule.MinValue)
		}
		if rule.MaxValue != nil && num > *rule.MaxValue {
			return reject("Parameter '%s' must be at most %d", opt.Name, *rule.MaxValue)
		}
	}
	return nil
}

// cooldownOutcome is the refusal shown while the caller is cooling down.
func cooldownOutcome(remaining time.Duration) Outcome {
	secs := int(math.Ceil(remaining.Seconds()))
	return Outcome{
		Message:    fmt.Sprintf("Please wait %d seconds before using this plugin again", secs),
		RetryAfter: remaining,
	}
}

package validator

import (
	"fmt"
	"net/mail"
	"regexp"
	"sort"
	"strings"

	"github.com/vedran77/ripple/internal/domain"
)

// ValidationErrors maps field name → human-readable problem. A request
// failing validation is rejected before any store write.
type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

// Err converts the collected problems into a single error, nil when empty.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + v[f]
	}
	return &Error{Fields: v, msg: strings.Join(parts, "; ")}
}

// Error carries per-field validation problems.
type Error struct {
	Fields ValidationErrors
	msg    string
}

func (e *Error) Error() string { return fmt.Sprintf("validation failed: %s", e.msg) }

var handleRegex = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidateHandle checks the case-folded form of a handle. Uniqueness is the
// registry's job, not this package's.
func ValidateHandle(handle string) ValidationErrors {
	errs := make(ValidationErrors)
	folded := domain.FoldHandle(handle)
	if folded == "" {
		errs.Add("handle", "Handle is required")
	} else if len(folded) < 3 {
		errs.Add("handle", "Handle must be at least 3 characters")
	} else if len(folded) > 30 {
		errs.Add("handle", "Handle is too long")
	} else if !handleRegex.MatchString(folded) {
		errs.Add("handle", "Handle can only contain letters, numbers and _")
	}
	return errs
}

// ValidateConversation checks the structural invariants of a new
// conversation: non-empty membership, named group/channel, owner and admins
// inside the member set.
func ValidateConversation(conv *domain.Conversation) ValidationErrors {
	errs := make(ValidationErrors)
	if conv.ID == "" {
		errs.Add("id", "Conversation id is required")
	}
	if len(conv.Members) == 0 {
		errs.Add("members", "Conversation must have at least one member")
	}
	switch conv.Type {
	case domain.ConversationDM:
		if len(conv.Members) != 2 {
			errs.Add("members", "A direct conversation has exactly two members")
		}
		if conv.Handle != "" {
			errs.Add("handle", "Direct conversations cannot have a handle")
		}
	case domain.ConversationGroup, domain.ConversationChannel:
		if strings.TrimSpace(conv.Name) == "" {
			errs.Add("name", "Name is required")
		}
		if conv.OwnerID == "" {
			errs.Add("owner", "Owner is required")
		} else if !conv.Members[conv.OwnerID] {
			errs.Add("owner", "Owner must be a member")
		}
		for admin := range conv.Admins {
			if !conv.Members[admin] {
				errs.Add("admins", "Admins must be members")
				break
			}
		}
	default:
		errs.Add("type", "Unknown conversation type")
	}
	if conv.Handle != "" {
		for f, msg := range ValidateHandle(conv.Handle) {
			errs.Add(f, msg)
		}
	}
	return errs
}

// ValidateProfile checks a user profile before it is written.
func ValidateProfile(profile *domain.UserProfile) ValidationErrors {
	errs := make(ValidationErrors)
	if profile.UID == "" {
		errs.Add("uid", "User id is required")
	}
	if strings.TrimSpace(profile.Name) == "" {
		errs.Add("name", "Name is required")
	}
	if profile.Email != "" {
		if _, err := mail.ParseAddress(profile.Email); err != nil {
			errs.Add("email", "Invalid email address")
		}
	}
	for f, msg := range ValidateHandle(profile.Handle) {
		errs.Add(f, msg)
	}
	return errs
}

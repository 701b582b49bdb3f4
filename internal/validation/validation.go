// Package validation provides centralized input validation for axislog.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for channel names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// DefaultNameRules returns the default rules for cloud variable names.
func DefaultNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    64,
		AllowDots:    false,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '+' || r == '#' {
			return fmt.Errorf("name cannot contain topic separators or wildcards at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateChannelName validates a cloud variable name with default rules.
func ValidateChannelName(name string) error {
	return ValidateName(name, DefaultNameRules())
}

// ValidateChannelNames checks that every name is valid and that no name is
// bound to more than one axis.
func ValidateChannelNames(names ...string) error {
	seen := make(map[string]int, len(names))
	for i, name := range names {
		if err := ValidateChannelName(name); err != nil {
			return fmt.Errorf("channel %q: %w", name, err)
		}
		if j, ok := seen[name]; ok {
			return fmt.Errorf("channel %q bound twice (positions %d and %d)", name, j, i)
		}
		seen[name] = i
	}
	return nil
}

// =============================================================================
// Topic Validation
// =============================================================================

// ChannelPlaceholder is replaced by the channel name in a topic template.
const ChannelPlaceholder = "{channel}"

// maxTopicLength is the MQTT limit for topic names in bytes.
const maxTopicLength = 65535

// ValidateTopic validates an MQTT topic name used for subscriptions.
// Wildcards are rejected since every channel maps to exactly one topic.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}

	if len(topic) > maxTopicLength {
		return fmt.Errorf("topic too long: maximum %d bytes", maxTopicLength)
	}

	if !utf8.ValidString(topic) {
		return fmt.Errorf("topic must be valid UTF-8")
	}

	if strings.HasPrefix(topic, "$") {
		return fmt.Errorf("topic cannot start with '$'")
	}

	for i, r := range topic {
		if r == 0 {
			return fmt.Errorf("topic cannot contain NUL at position %d", i)
		}
		if r == '+' || r == '#' {
			return fmt.Errorf("topic cannot contain wildcard '%c' at position %d", r, i)
		}
	}

	return nil
}

// ValidateTopicTemplate validates a topic template. The template must
// contain the channel placeholder so that channels map to distinct topics.
func ValidateTopicTemplate(template string) error {
	if !strings.Contains(template, ChannelPlaceholder) {
		return fmt.Errorf("topic template %q must contain %s", template, ChannelPlaceholder)
	}
	return ValidateTopic(strings.ReplaceAll(template, ChannelPlaceholder, "c"))
}

// Topic expands a topic template for the given channel name.
func Topic(template, channel string) string {
	return strings.ReplaceAll(template, ChannelPlaceholder, channel)
}

// =============================================================================
// Channel Binding Validation
// =============================================================================

// ChannelBinding binds an axis to a cloud variable name.
type ChannelBinding struct {
	Axis string
	Name string
}

// ParseChannelBinding parses an "axis=name" binding, e.g. "x=py_x".
func ParseChannelBinding(ref string) (*ChannelBinding, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty channel binding")
	}

	parts := strings.SplitN(ref, "=", 2)

	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid channel binding format: expected 'axis=name', got '%s'", ref)
	}

	axis := strings.ToLower(strings.TrimSpace(parts[0]))
	name := strings.TrimSpace(parts[1])

	switch axis {
	case "x", "y", "z":
	default:
		return nil, fmt.Errorf("invalid channel binding: unknown axis in '%s'", ref)
	}

	if err := ValidateChannelName(name); err != nil {
		return nil, fmt.Errorf("invalid channel name in binding: %w", err)
	}

	return &ChannelBinding{
		Axis: axis,
		Name: name,
	}, nil
}

// ParseChannelBindings parses a comma-separated list of bindings.
func ParseChannelBindings(list string) ([]ChannelBinding, error) {
	var out []ChannelBinding
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		b, err := ParseChannelBinding(part)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}

// String returns the string representation of the binding.
func (b *ChannelBinding) String() string {
	return b.Axis + "=" + b.Name
}

// =============================================================================
// SQL Quoting
// =============================================================================

// QuoteLiteral returns s as a single-quoted SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteIdent returns s as a double-quoted SQL identifier.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
)

// KindRegex is the registry key for RegexService.
const KindRegex = "regex"

// RegexService extracts every match of a regular expression, or of one
// capture group when the group property is non-zero. It runs locally and is
// mostly useful for structured values such as emails, URLs or ids.
type RegexService struct {
	Properties

	mu      sync.Mutex
	source  string
	re      *regexp.Regexp
	compErr error
}

// NewRegexService creates an unconfigured regex service.
func NewRegexService() *RegexService {
	s := &RegexService{}
	s.Declare([]string{"pattern", "group", ColumnProperty}, map[string]string{"group": "0"})
	return s
}

func (s *RegexService) Kind() string { return KindRegex }

func (s *RegexService) Documentation() string {
	return "Extracts all matches of a regular expression (RE2 syntax)"
}

// IsConfigured reports whether the pattern compiles.
func (s *RegexService) IsConfigured() bool {
	_, err := s.compiled()
	return err == nil
}

// Extract returns all matches in text.
func (s *RegexService) Extract(_ context.Context, text string) ([]string, error) {
	re, err := s.compiled()
	if err != nil {
		return nil, err
	}

	group := 0
	if g := s.Property("group"); g != "" {
		group, err = strconv.Atoi(g)
		if err != nil || group < 0 || group > re.NumSubexp() {
			return nil, fmt.Errorf("%w: invalid group %q", ErrNotConfigured, g)
		}
	}

	matches := re.FindAllStringSubmatch(text, -1)
	values := make([]string, 0, len(matches))
	for _, m := range matches {
		values = append(values, m[group])
	}
	return values, nil
}

// compiled caches the compiled pattern until the property changes.
func (s *RegexService) compiled() (*regexp.Regexp, error) {
	pattern := s.Property("pattern")

	s.mu.Lock()
	defer s.mu.Unlock()

	if pattern == s.source && (s.re != nil || s.compErr != nil) {
		return s.re, s.compErr
	}
	s.source = pattern
	s.re, s.compErr = nil, nil
	if pattern == "" {
		s.compErr = fmt.Errorf("%w: empty pattern", ErrNotConfigured)
		return nil, s.compErr
	}
	s.re, s.compErr = regexp.Compile(pattern)
	if s.compErr != nil {
		s.compErr = fmt.Errorf("%w: %v", ErrNotConfigured, s.compErr)
	}
	return s.re, s.compErr
}

// Package manifest implements order-preserving read-modify-write access to
// the external sprint-status YAML document and the story selection logic
// that drives each orchestrator cycle.
package manifest

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

const developmentStatusKey = "development_status"

// Closed statuses that exclude a story from selection.
const (
	StatusDone    = "done"
	StatusBlocked = "blocked"
)

// StatusBacklog is the only status that triggers the create-story/review/
// tech-spec prefix phases at the start of a cycle.
const StatusBacklog = "backlog"

// Manifest wraps read-modify-write access to the sprint-status YAML file.
// Writes are not internally locked — the single-orchestrator-per-process
// invariant is what makes that safe, not a mutex here.
type Manifest struct {
	path    string
	epicLRU *lru.Cache[string, string]
}

// New returns a Manifest bound to the YAML file at path.
func New(path string) *Manifest {
	cache, _ := lru.New[string, string](512)
	return &Manifest{path: path, epicLRU: cache}
}

// load parses the YAML document into a generic node tree, preserving key
// order and comments for anything not explicitly touched.
func (m *Manifest) load() (*yaml.Node, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read sprint manifest: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sprint manifest: %w", err)
	}
	return &doc, nil
}

func (m *Manifest) save(doc *yaml.Node) error {
	encoded, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode sprint manifest: %w", err)
	}
	if err := os.WriteFile(m.path, encoded, 0o644); err != nil {
		return fmt.Errorf("write sprint manifest: %w", err)
	}
	return nil
}

// rootMapping returns the document's root mapping node, unwrapping the
// document node yaml.Unmarshal always produces.
func rootMapping(doc *yaml.Node) (*yaml.Node, error) {
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil, fmt.Errorf("empty manifest document")
		}
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("manifest root is not a mapping")
	}
	return doc, nil
}

// findMappingValue returns the value node for key within a mapping node, or
// nil if absent.
func findMappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// DevelopmentStatus returns a snapshot of development_status as an ordered
// slice of (key, status) pairs.
func (m *Manifest) DevelopmentStatus() ([]KeyStatus, error) {
	doc, err := m.load()
	if err != nil {
		return nil, err
	}
	root, err := rootMapping(doc)
	if err != nil {
		return nil, err
	}
	devStatus := findMappingValue(root, developmentStatusKey)
	if devStatus == nil || devStatus.Kind != yaml.MappingNode {
		return nil, nil
	}

	out := make([]KeyStatus, 0, len(devStatus.Content)/2)
	for i := 0; i+1 < len(devStatus.Content); i += 2 {
		out = append(out, KeyStatus{Key: devStatus.Content[i].Value, Status: devStatus.Content[i+1].Value})
	}
	return out, nil
}

// KeyStatus is one entry of the development_status mapping.
type KeyStatus struct {
	Key    string
	Status string
}

// UpdateStatus writes a new status for key, preserving the order of every
// other key, and returns the status that was replaced.
func (m *Manifest) UpdateStatus(key, newStatus string) (oldStatus string, err error) {
	doc, err := m.load()
	if err != nil {
		return "", err
	}
	root, err := rootMapping(doc)
	if err != nil {
		return "", err
	}
	devStatus := findMappingValue(root, developmentStatusKey)
	if devStatus == nil || devStatus.Kind != yaml.MappingNode {
		return "", fmt.Errorf("manifest has no %s mapping", developmentStatusKey)
	}

	found := false
	for i := 0; i+1 < len(devStatus.Content); i += 2 {
		if devStatus.Content[i].Value == key {
			oldStatus = devStatus.Content[i+1].Value
			devStatus.Content[i+1].Value = newStatus
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("manifest: unknown story key %q", key)
	}
	if err := m.save(doc); err != nil {
		return "", err
	}
	return oldStatus, nil
}

// Status returns the current development_status value for key: the first
// selected story's status decides whether a cycle runs the
// create-story/review/tech-spec prefix.
func (m *Manifest) Status(key string) (string, error) {
	entries, err := m.DevelopmentStatus()
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Key == key {
			return e.Status, nil
		}
	}
	return "", fmt.Errorf("manifest: unknown story key %q", key)
}

// epicPrefixPattern matches a leading integer, optional single trailing
// letter, and optional "-letters" sub-prefix segment, immediately before
// the final "-<digits>" segment of a story key.
var epicPrefixPattern = regexp.MustCompile(`^(\d+[a-zA-Z]?(?:-[a-zA-Z]+)?)-\d+`)

// EpicID extracts the epic identifier from a story key, memoizing results
// in a bounded LRU cache since extraction is pure and runs once per story
// per cycle.
func (m *Manifest) EpicID(key string) string {
	if cached, ok := m.epicLRU.Get(key); ok {
		return cached
	}
	id := computeEpicID(key)
	m.epicLRU.Add(key, id)
	return id
}

func computeEpicID(key string) string {
	if match := epicPrefixPattern.FindStringSubmatch(key); match != nil {
		return match[1]
	}
	if idx := strings.LastIndex(key, "-"); idx >= 0 {
		return key[:idx]
	}
	return key
}

// sortKey is the composite sort key used by SelectStories: a leading
// integer, an optional alphabetic sub-prefix, and a trailing integer.
// Unparseable keys sort last.
type sortKey struct {
	parseable  bool
	leading    int
	subPrefix  string
	trailing   int
	original   string
}

var sortKeyPattern = regexp.MustCompile(`^(\d+)([a-zA-Z]*)-(\d+)`)

func parseSortKey(key string) sortKey {
	match := sortKeyPattern.FindStringSubmatch(key)
	if match == nil {
		return sortKey{parseable: false, original: key}
	}
	leading, errL := strconv.Atoi(match[1])
	trailing, errT := strconv.Atoi(match[3])
	if errL != nil || errT != nil {
		return sortKey{parseable: false, original: key}
	}
	return sortKey{parseable: true, leading: leading, subPrefix: match[2], trailing: trailing, original: key}
}

func lessSortKey(a, b sortKey) bool {
	if a.parseable != b.parseable {
		return a.parseable // parseable keys sort before unparseable ones
	}
	if !a.parseable {
		return a.original < b.original
	}
	if a.leading != b.leading {
		return a.leading < b.leading
	}
	if a.subPrefix != b.subPrefix {
		return a.subPrefix < b.subPrefix
	}
	if a.trailing != b.trailing {
		return a.trailing < b.trailing
	}
	return a.original < b.original
}

// SelectStories filters, sorts, and selects the next story (or story pair)
// to work on this cycle. Returns an empty slice when no work
// remains.
func (m *Manifest) SelectStories() ([]string, error) {
	entries, err := m.DevelopmentStatus()
	if err != nil {
		return nil, err
	}

	candidates := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Key, "epic-") {
			continue
		}
		if strings.HasSuffix(e.Key, "-retrospective") {
			continue
		}
		if e.Status == StatusDone || e.Status == StatusBlocked {
			continue
		}
		candidates = append(candidates, e.Key)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return lessSortKey(parseSortKey(candidates[i]), parseSortKey(candidates[j]))
	})

	first := candidates[0]
	firstEpic := m.EpicID(first)
	selected := []string{first}
	for _, key := range candidates[1:] {
		if m.EpicID(key) == firstEpic {
			selected = append(selected, key)
			break
		}
	}
	return selected, nil
}

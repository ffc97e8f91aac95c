// Package artifacts implements the per-request Artifact Accumulator
// (spec §4.6): type classification of incoming content parts, merge of
// knowledge-graph and bibliography parts, and final ordering/id
// assignment before a chat response is written.
package artifacts

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/moc/pkg/models"
)

// NormalizeType maps legacy/loose media-type spellings an LLM or tool
// might emit onto the canonical constants in pkg/models. Unrecognized
// types pass through unchanged — e.g. a language-qualified code type
// like "application/vnd.code.go" is left alone, only the bare aliases
// are rewritten.
func NormalizeType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	switch t {
	case "application/knowledge-graph", "application/vnd.ant.knowledge-graph", "knowledge-graph":
		return models.MediaKnowledgeGraph
	case "application/bibliography", "bibliography":
		return models.MediaBibliography
	case "code":
		return models.MediaCode
	case "markdown":
		return models.MediaMarkdown
	default:
		return t
	}
}

func isKnowledgeGraphType(t string) bool { return t == models.MediaKnowledgeGraph }
func isBibliographyType(t string) bool   { return t == models.MediaBibliography }
func isCodeType(t string) bool {
	return t == models.MediaCode || strings.HasPrefix(t, "application/vnd.code.") || strings.HasPrefix(t, "text/x-")
}

// Accumulator merges content parts observed over the lifetime of one
// chat request into the final ordered artifact list. It is not safe
// for concurrent use; the loop observes parts from a single goroutine
// per request.
type Accumulator struct {
	artifacts []models.Artifact
	kgIndex   int // index into artifacts of the merged KG artifact, -1 if none yet

	kg          models.KnowledgeGraph
	nodeIndex   map[string]int // node id -> index into kg.Nodes
	edgeIndex   map[string]int // "source\x00target\x00label" -> index into kg.Edges

	bib       models.Bibliography
	bibIndex  map[string]int // pmid -> index into bib.Entries
	haveBib   bool

	newID func() string
}

// New creates an Accumulator, optionally seeded with a pinned
// knowledge graph supplied on the request (spec §4.6: "Any earlier
// pinned knowledge-graph provided with the request is used as the seed
// of the merge").
func New(pinned *models.KnowledgeGraph) *Accumulator {
	a := &Accumulator{
		kgIndex:   -1,
		nodeIndex: make(map[string]int),
		edgeIndex: make(map[string]int),
		bibIndex:  make(map[string]int),
		newID:     uuid.NewString,
	}
	if pinned != nil {
		a.mergeKnowledgeGraph(*pinned)
	}
	return a
}

// Observe classifies and merges one batch of content parts — either a
// tool result's content blocks or the formatter's declared artifacts —
// produced together, so pairing (image + accompanying source) is only
// attempted within a batch.
func (a *Accumulator) Observe(parts []models.ContentPart) {
	var lastCodeArtifactID string

	for _, part := range parts {
		switch part.Type {
		case models.ContentText:
			// No artifact produced for plain text.
			lastCodeArtifactID = ""

		case models.ContentImage, models.ContentBinary:
			art := models.Artifact{
				ID:      a.newID(),
				Type:    normalizedMediaType(part),
				Title:   part.Title,
				Content: part.Data,
			}
			if lastCodeArtifactID != "" {
				art.SourceArtifactID = lastCodeArtifactID
			}
			a.append(art)
			lastCodeArtifactID = ""

		case models.ContentResourceRef:
			art := models.Artifact{ID: a.newID(), Type: "resource", Title: part.Title, Content: part.URI}
			a.append(art)
			lastCodeArtifactID = ""

		case models.ContentStructuredArtifact:
			normalized := NormalizeType(part.ArtifactType)
			switch {
			case isKnowledgeGraphType(normalized):
				a.observeKnowledgeGraphPart(part.Text)
				lastCodeArtifactID = ""
			case isBibliographyType(normalized):
				a.observeBibliographyPart(part.Text)
				lastCodeArtifactID = ""
			default:
				art := models.Artifact{
					ID:       a.newID(),
					Type:     normalized,
					Title:    part.Title,
					Content:  part.Text,
					Language: part.Language,
				}
				a.append(art)
				if isCodeType(normalized) {
					lastCodeArtifactID = art.ID
				} else {
					lastCodeArtifactID = ""
				}
			}

		default:
			lastCodeArtifactID = ""
		}
	}
}

func normalizedMediaType(part models.ContentPart) string {
	if part.MimeType != "" {
		return part.MimeType
	}
	if part.Type == models.ContentImage {
		return "image/*"
	}
	return "application/octet-stream"
}

func (a *Accumulator) append(art models.Artifact) {
	a.artifacts = append(a.artifacts, art)
}

func (a *Accumulator) observeKnowledgeGraphPart(raw string) {
	var kg models.KnowledgeGraph
	if err := json.Unmarshal([]byte(raw), &kg); err != nil {
		// Malformed knowledge-graph payloads are dropped rather than
		// surfaced as a tool error; the artifact pipeline never fails a
		// request over content it cannot parse.
		return
	}
	if a.kgIndex < 0 {
		a.artifacts = append(a.artifacts, models.Artifact{ID: a.newID(), Type: models.MediaKnowledgeGraph})
		a.kgIndex = len(a.artifacts) - 1
	}
	a.mergeKnowledgeGraph(kg)
}

func (a *Accumulator) mergeKnowledgeGraph(kg models.KnowledgeGraph) {
	for _, node := range kg.Nodes {
		if _, ok := a.nodeIndex[node.ID]; ok {
			continue // first-wins: existing metadata is kept.
		}
		a.nodeIndex[node.ID] = len(a.kg.Nodes)
		a.kg.Nodes = append(a.kg.Nodes, node)
	}
	for _, edge := range kg.Edges {
		key := edgeKey(edge.Source, edge.Target, edge.Label)
		if idx, ok := a.edgeIndex[key]; ok {
			a.kg.Edges[idx].Evidence = unionStrings(a.kg.Edges[idx].Evidence, edge.Evidence)
			continue
		}
		a.edgeIndex[key] = len(a.kg.Edges)
		a.kg.Edges = append(a.kg.Edges, edge)
	}
}

func edgeKey(source, target, label string) string {
	return source + "\x00" + target + "\x00" + label
}

// unionStrings appends entries from add that are not already in base,
// preserving the order of first occurrence across both slices.
func unionStrings(base, add []string) []string {
	if len(add) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base))
	for _, s := range base {
		seen[s] = struct{}{}
	}
	out := base
	for _, s := range add {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (a *Accumulator) observeBibliographyPart(raw string) {
	var bib models.Bibliography
	if err := json.Unmarshal([]byte(raw), &bib); err != nil {
		return
	}
	a.haveBib = true
	for _, entry := range bib.Entries {
		if _, ok := a.bibIndex[entry.PMID]; ok {
			continue // first-wins: existing metadata is kept.
		}
		a.bibIndex[entry.PMID] = len(a.bib.Entries)
		a.bib.Entries = append(a.bib.Entries, entry)
	}
}

var artifactRefPattern = `<artifact ref="%s"/>`

// Finalize assembles the final, ordered, deduplicated artifact list and
// returns the conversation text with any missing reference markers
// appended at the end (spec §4.6's button-materialization pass).
func (a *Accumulator) Finalize(conversation string) (string, []models.Artifact) {
	final := append([]models.Artifact{}, a.artifacts...)

	if a.kgIndex >= 0 {
		data, err := json.Marshal(a.kg)
		if err == nil {
			final[a.kgIndex].Content = string(data)
		}
	}
	if a.haveBib {
		data, err := json.Marshal(a.bib)
		if err == nil {
			final = append(final, models.Artifact{ID: a.newID(), Type: models.MediaBibliography, Content: string(data)})
		}
	}

	for i := range final {
		final[i].Position = i
	}

	var missing []string
	for _, art := range final {
		if !referencesArtifact(conversation, art.ID) {
			missing = append(missing, fmt.Sprintf(artifactRefPattern, art.ID))
		}
	}
	if len(missing) > 0 {
		if conversation != "" && !strings.HasSuffix(conversation, "\n") {
			conversation += "\n"
		}
		conversation += strings.Join(missing, "\n")
	}

	return conversation, final
}

func referencesArtifact(conversation, id string) bool {
	re := regexp.MustCompile(`<artifact\s+ref="` + regexp.QuoteMeta(id) + `"\s*/>`)
	return re.MatchString(conversation)
}

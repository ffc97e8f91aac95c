package artifacts

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/moc/pkg/models"
)

func kgPart(kg models.KnowledgeGraph) models.ContentPart {
	data, _ := json.Marshal(kg)
	return models.ContentPart{Type: models.ContentStructuredArtifact, ArtifactType: "application/knowledge-graph", Text: string(data)}
}

func bibPart(bib models.Bibliography) models.ContentPart {
	data, _ := json.Marshal(bib)
	return models.ContentPart{Type: models.ContentStructuredArtifact, ArtifactType: "application/vnd.bibliography", Text: string(data)}
}

func TestAccumulatorTextProducesNoArtifact(t *testing.T) {
	a := New(nil)
	a.Observe([]models.ContentPart{{Type: models.ContentText, Text: "hello"}})
	_, artifacts := a.Finalize("hello")
	if len(artifacts) != 0 {
		t.Fatalf("got %d artifacts, want 0", len(artifacts))
	}
}

func TestAccumulatorMergesKnowledgeGraphAcrossBatches(t *testing.T) {
	a := New(nil)
	a.Observe([]models.ContentPart{kgPart(models.KnowledgeGraph{
		Nodes: []models.KGNode{{ID: "n1", Label: "first"}},
		Edges: []models.KGEdge{{Source: "n1", Target: "n2", Label: "rel", Evidence: []string{"doc1"}}},
	})})
	a.Observe([]models.ContentPart{kgPart(models.KnowledgeGraph{
		Nodes: []models.KGNode{{ID: "n1", Label: "stale"}, {ID: "n2", Label: "second"}},
		Edges: []models.KGEdge{{Source: "n1", Target: "n2", Label: "rel", Evidence: []string{"doc2", "doc1"}}},
	})})

	_, artifacts := a.Finalize("")
	if len(artifacts) != 1 {
		t.Fatalf("got %d artifacts, want 1 merged kg artifact", len(artifacts))
	}
	var merged models.KnowledgeGraph
	if err := json.Unmarshal([]byte(artifacts[0].Content), &merged); err != nil {
		t.Fatalf("unmarshal merged kg: %v", err)
	}
	if len(merged.Nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(merged.Nodes))
	}
	if merged.Nodes[0].Label != "first" {
		t.Fatalf("got %q, want first-wins label %q", merged.Nodes[0].Label, "first")
	}
	if len(merged.Edges) != 1 {
		t.Fatalf("got %d edges, want 1 deduped edge", len(merged.Edges))
	}
	if got := merged.Edges[0].Evidence; len(got) != 2 || got[0] != "doc1" || got[1] != "doc2" {
		t.Fatalf("got evidence %v, want [doc1 doc2] preserving first-occurrence order", got)
	}
}

func TestAccumulatorSeedsFromPinnedGraph(t *testing.T) {
	a := New(&models.KnowledgeGraph{Nodes: []models.KGNode{{ID: "seed", Label: "pinned"}}})
	a.Observe([]models.ContentPart{kgPart(models.KnowledgeGraph{Nodes: []models.KGNode{{ID: "n2", Label: "new"}}})})

	_, artifacts := a.Finalize("")
	var merged models.KnowledgeGraph
	if err := json.Unmarshal([]byte(artifacts[0].Content), &merged); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(merged.Nodes) != 2 || merged.Nodes[0].ID != "seed" {
		t.Fatalf("got %+v", merged.Nodes)
	}
}

func TestAccumulatorBibliographyAppendedLast(t *testing.T) {
	a := New(nil)
	a.Observe([]models.ContentPart{
		{Type: models.ContentStructuredArtifact, ArtifactType: "code", Text: "package main", Language: "go"},
		bibPart(models.Bibliography{Entries: []models.BibEntry{{PMID: "123", Title: "a paper"}}}),
	})
	a.Observe([]models.ContentPart{bibPart(models.Bibliography{Entries: []models.BibEntry{{PMID: "123", Title: "duplicate"}, {PMID: "456", Title: "another"}}})})

	_, artifacts := a.Finalize("")
	if len(artifacts) != 2 {
		t.Fatalf("got %d artifacts, want 2 (code + bibliography)", len(artifacts))
	}
	last := artifacts[len(artifacts)-1]
	if last.Type != models.MediaBibliography {
		t.Fatalf("got last artifact type %q, want bibliography", last.Type)
	}
	var bib models.Bibliography
	if err := json.Unmarshal([]byte(last.Content), &bib); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(bib.Entries) != 2 {
		t.Fatalf("got %d entries, want 2 deduped by pmid", len(bib.Entries))
	}
	if bib.Entries[0].Title != "a paper" {
		t.Fatalf("got %q, want first-wins title", bib.Entries[0].Title)
	}
}

func TestAccumulatorLinksImageToPrecedingCodeArtifact(t *testing.T) {
	a := New(nil)
	a.Observe([]models.ContentPart{
		{Type: models.ContentStructuredArtifact, ArtifactType: "code", Text: "print('hi')", Language: "python"},
		{Type: models.ContentImage, MimeType: "image/png", Data: "base64data"},
	})
	_, artifacts := a.Finalize("")
	if len(artifacts) != 2 {
		t.Fatalf("got %d artifacts, want 2", len(artifacts))
	}
	if artifacts[1].SourceArtifactID != artifacts[0].ID {
		t.Fatalf("image artifact not linked to code artifact: %+v", artifacts[1])
	}
}

func TestAccumulatorPositionsAreSequential(t *testing.T) {
	a := New(nil)
	a.Observe([]models.ContentPart{
		{Type: models.ContentStructuredArtifact, ArtifactType: "code", Text: "a"},
		{Type: models.ContentStructuredArtifact, ArtifactType: "code", Text: "b"},
	})
	_, artifacts := a.Finalize("")
	for i, art := range artifacts {
		if art.Position != i {
			t.Fatalf("artifact %d has position %d", i, art.Position)
		}
	}
}

func TestFinalizeAppendsMissingReferenceMarkers(t *testing.T) {
	a := New(nil)
	a.Observe([]models.ContentPart{{Type: models.ContentStructuredArtifact, ArtifactType: "code", Text: "a"}})
	text, artifacts := a.Finalize("placeholder conversation")
	if !strings.Contains(text, `<artifact ref="`+artifacts[0].ID+`"/>`) {
		t.Fatalf("got %q, expected an appended reference marker", text)
	}
}

func TestFinalizeLeavesExistingReferenceMarkerAlone(t *testing.T) {
	a := New(nil)
	a.Observe([]models.ContentPart{{Type: models.ContentStructuredArtifact, ArtifactType: "code", Text: "a"}})
	_, artifacts := a.Finalize("")
	id := artifacts[0].ID

	conversation := `see <artifact ref="` + id + `"/> above`
	text, _ := a.Finalize(conversation)
	if text != conversation {
		t.Fatalf("got %q, want unchanged %q", text, conversation)
	}
}

func TestNormalizeTypeMapsLegacyAliases(t *testing.T) {
	cases := map[string]string{
		"application/knowledge-graph": models.MediaKnowledgeGraph,
		"knowledge-graph":             models.MediaKnowledgeGraph,
		"application/bibliography":    models.MediaBibliography,
		"code":                        models.MediaCode,
		"markdown":                    models.MediaMarkdown,
		"application/vnd.code.go":     "application/vnd.code.go",
	}
	for in, want := range cases {
		if got := NormalizeType(in); got != want {
			t.Errorf("NormalizeType(%q) = %q, want %q", in, got, want)
		}
	}
}

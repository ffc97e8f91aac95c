package loop

import (
	"github.com/haasonsaas/moc/internal/mcpclient"
	"github.com/haasonsaas/moc/pkg/models"
)

// convertToolContent maps a tool-call result's raw MCP content blocks
// into the content-part shape the Artifact Accumulator classifies (spec
// §4.6 rule 1/2: text parts never become artifacts; image/resource parts
// do).
func convertToolContent(blocks []mcpclient.ContentBlock) []models.ContentPart {
	out := make([]models.ContentPart, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "image":
			out = append(out, models.ContentPart{Type: models.ContentImage, MimeType: b.MimeType, Data: b.Data})
		case "resource":
			out = append(out, models.ContentPart{Type: models.ContentResourceRef, MimeType: b.MimeType, URI: b.URI})
		default:
			out = append(out, models.ContentPart{Type: models.ContentText, Text: b.Text})
		}
	}
	return out
}

// convertFormatterArtifacts maps the response_formatter call's declared
// artifacts into content parts. An artifact whose Type is "image" becomes
// an image part carrying its MimeType and Content as data; every other
// artifact becomes a structured part that C6 classifies and normalizes by
// ArtifactType (spec §4.6 rule 3).
func convertFormatterArtifacts(artifacts []FormatterArtifact) []models.ContentPart {
	out := make([]models.ContentPart, 0, len(artifacts))
	for _, a := range artifacts {
		part := models.ContentPart{
			Type:         models.ContentStructuredArtifact,
			ArtifactType: a.MimeType,
			Title:        a.Title,
			Language:     a.Language,
			Text:         a.Content,
		}
		if a.Type == "image" {
			part.Type = models.ContentImage
			part.MimeType = a.MimeType
			part.Data = a.Content
		}
		out = append(out, part)
	}
	return out
}

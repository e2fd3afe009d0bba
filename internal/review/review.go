// Package review delivers staging-routed enrichment results to the manual
// review queue, a Notion database the component data team works from.
package review

import (
	"context"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/pkg/notion"
)

// Queue publishes review candidates. One page per job; re-enrichment of
// the same part updates the existing pending page instead of stacking
// duplicates.
type Queue struct {
	client notion.Client
	dbID   string
}

func NewQueue(client notion.Client, databaseID string) *Queue {
	return &Queue{client: client, dbID: databaseID}
}

// Push sends a staging-routed result to the review queue. Results routed
// anywhere else are ignored, so callers can push unconditionally.
func (q *Queue) Push(ctx context.Context, result *model.EnrichmentResult) error {
	if result.Destination != model.RouteStaging || result.Component == nil {
		return nil
	}

	pageID, err := q.findPending(ctx, result.MPN, result.Manufacturer)
	if err != nil {
		return err
	}

	props := q.buildProperties(result)
	if pageID != "" {
		_, err := q.client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{Properties: props})
		if err != nil {
			return eris.Wrapf(err, "review: update page for %s", result.MPN)
		}
		zap.L().Info("review: refreshed pending review page",
			zap.String("mpn", result.MPN), zap.String("page_id", pageID))
		return nil
	}

	_, err = q.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(q.dbID),
		},
		Properties: props,
	})
	if err != nil {
		return eris.Wrapf(err, "review: create page for %s", result.MPN)
	}
	zap.L().Info("review: queued for manual review",
		zap.String("mpn", result.MPN),
		zap.Float64("score", result.QualityScore))
	return nil
}

// findPending looks for an existing page for the part still awaiting
// review. Returns the empty string when none exists.
func (q *Queue) findPending(ctx context.Context, mpn, manufacturer string) (string, error) {
	resp, err := q.client.QueryDatabase(ctx, q.dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.AndCompoundFilter{
			notionapi.PropertyFilter{
				Property: "MPN",
				RichText: &notionapi.TextFilterCondition{Equals: mpn},
			},
			notionapi.PropertyFilter{
				Property: "Status",
				Select:   &notionapi.SelectFilterCondition{Equals: "Pending Review"},
			},
		},
		PageSize: 5,
	})
	if err != nil {
		return "", eris.Wrapf(err, "review: query pending for %s", mpn)
	}

	for _, page := range resp.Results {
		if pageManufacturer(page) == "" || strings.EqualFold(pageManufacturer(page), manufacturer) {
			return string(page.ID), nil
		}
	}
	return "", nil
}

func (q *Queue) buildProperties(result *model.EnrichmentResult) notionapi.Properties {
	comp := result.Component
	now := notionapi.Date(time.Now())

	props := notionapi.Properties{
		"MPN": notionapi.TitleProperty{
			Type: notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: result.MPN}},
			},
		},
		"Manufacturer": richText(comp.Manufacturer),
		"Job ID":       richText(result.JobID),
		"Quality Score": notionapi.NumberProperty{
			Number: result.QualityScore,
		},
		"Source": notionapi.SelectProperty{
			Select: notionapi.Option{Name: comp.Source},
		},
		"Status": notionapi.SelectProperty{
			Select: notionapi.Option{Name: "Pending Review"},
		},
		"Tiers Used": richText(strings.Join(result.TiersUsed, ", ")),
		"Enriched At": notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &now},
		},
	}
	if comp.Description != "" {
		props["Description"] = richText(comp.Description)
	}
	if comp.DatasheetURL != "" {
		props["Datasheet"] = notionapi.URLProperty{URL: comp.DatasheetURL}
	}
	return props
}

func richText(content string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		RichText: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: content}},
		},
	}
}

func pageManufacturer(page notionapi.Page) string {
	prop, ok := page.Properties["Manufacturer"]
	if !ok {
		return ""
	}
	rt, ok := prop.(*notionapi.RichTextProperty)
	if !ok || len(rt.RichText) == 0 {
		return ""
	}
	return rt.RichText[0].PlainText
}

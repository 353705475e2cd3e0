package ai

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/maximbilan/vaultai/internal/prompt"
	"github.com/maximbilan/vaultai/internal/store"
	"github.com/maximbilan/vaultai/internal/validation"
)

// DuplicateGroup is a set of items the model considers near-identical.
type DuplicateGroup struct {
	IDs    []string     `json:"ids"`
	Reason string       `json:"reason,omitempty"`
	Items  []store.Item `json:"items"`
}

// DuplicateReport is the result of a duplicate scan.
type DuplicateReport struct {
	Groups   []DuplicateGroup `json:"groups"`
	Summary  string           `json:"summary,omitempty"`
	Scanned  int              `json:"scanned"`
	Provider string           `json:"provider,omitempty"`
}

// DetectDuplicates asks the model to group similar items among the user's
// most recent ones. Fewer than two items, or a reply that cannot be parsed,
// yields an empty report.
func (s *Service) DetectDuplicates(ctx context.Context, userID string) (*DuplicateReport, error) {
	if _, _, err := s.selectCredential(ctx, userID, ""); err != nil {
		return nil, err
	}

	items, err := s.store.ListRecentItems(ctx, userID, s.limits.DuplicateScanLimit)
	if err != nil {
		return nil, err
	}
	if len(items) < 2 {
		return &DuplicateReport{Groups: []DuplicateGroup{}, Scanned: len(items)}, nil
	}

	scan, items := fitScanPrompt(items)
	report := &DuplicateReport{Groups: []DuplicateGroup{}, Scanned: len(items)}

	content, err := json.Marshal(scan)
	if err != nil {
		return nil, err
	}
	res, err := s.Complete(ctx, userID, ActionRequest{
		Action:  string(prompt.DetectDuplicates),
		Content: content,
	})
	if err != nil {
		return nil, err
	}
	report.Provider = res.Provider

	groups, summary, ok := parseDuplicateReply(res.Content)
	if !ok {
		s.log.Debug("unparseable duplicate scan reply", "user", userID)
		return report, nil
	}
	report.Summary = summary

	byID := make(map[string]store.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	for _, g := range groups {
		seen := make(map[string]bool, len(g.IDs))
		out := DuplicateGroup{Reason: g.Reason}
		for _, id := range g.IDs {
			item, known := byID[id]
			if !known || seen[id] {
				continue
			}
			seen[id] = true
			out.IDs = append(out.IDs, id)
			out.Items = append(out.Items, item)
		}
		if len(out.Items) >= 2 {
			report.Groups = append(report.Groups, out)
		}
	}
	return report, nil
}

// fitScanPrompt drops the oldest items until the scan prompt fits within
// the request size limit. At least two items are always kept.
func fitScanPrompt(items []store.Item) (string, []store.Item) {
	scan := prompt.DuplicateScanPrompt(items)
	for len(items) > 2 && utf8.RuneCountInString(scan) > validation.MaxInputLength {
		items = items[:len(items)-1]
		scan = prompt.DuplicateScanPrompt(items)
	}
	return scan, items
}

type rawGroup struct {
	IDs    []string
	Reason string
}

// parseDuplicateReply reads the first {...} span of the reply. Groups may be
// plain id arrays or {"ids": [...], "reason": "..."} objects.
func parseDuplicateReply(reply string) ([]rawGroup, string, bool) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, "", false
	}

	var parsed struct {
		Groups  []json.RawMessage `json:"groups"`
		Summary string            `json:"summary"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &parsed); err != nil {
		return nil, "", false
	}

	groups := make([]rawGroup, 0, len(parsed.Groups))
	for _, raw := range parsed.Groups {
		var ids []string
		if err := json.Unmarshal(raw, &ids); err == nil {
			groups = append(groups, rawGroup{IDs: ids})
			continue
		}
		var obj struct {
			IDs    []string `json:"ids"`
			Reason string   `json:"reason"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil {
			groups = append(groups, rawGroup{IDs: obj.IDs, Reason: obj.Reason})
		}
	}
	return groups, parsed.Summary, true
}

package protocol

// FilledItem pairs a template item with its resolved type and answer.
type FilledItem struct {
	ID       int        `json:"id"`
	Question string     `json:"question"`
	Inferred PromptType `json:"inferred_type"`
	Answer   Answer     `json:"answer"`
}

// FilledPage mirrors a template page with filled items.
type FilledPage struct {
	ID    int          `json:"id"`
	Name  string       `json:"name"`
	Items []FilledItem `json:"prompts"`
}

// FilledProtocol is the fully resolved questionnaire for one call.
type FilledProtocol struct {
	ID             int          `json:"id"`
	Name           string       `json:"name"`
	CampaignID     string       `json:"campaign_id,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Pages          []FilledPage `json:"pages"`
}

// ProjectAnswers builds a filled protocol from the template, the resolved
// shadow types and the extracted answers. Items without an answer receive an
// unset one; yes/no items with a checked state but no value get the derived
// ja/nein rendering so downstream consumers never see a bare checkbox.
func ProjectAnswers(p *Protocol, types map[int]ShadowType, answers map[int]Answer) *FilledProtocol {
	filled := &FilledProtocol{
		ID:         p.ID,
		Name:       p.Name,
		CampaignID: p.CampaignID,
	}
	for _, page := range p.Pages {
		fp := FilledPage{ID: page.ID, Name: page.Name}
		for _, item := range page.Items {
			fi := FilledItem{
				ID:       item.ID,
				Question: item.Question,
				Inferred: types[item.ID].Inferred,
			}
			if ans, ok := answers[item.ID]; ok {
				ans.Normalize()
				fi.Answer = ans
			}
			deriveYesNoValue(&fi)
			fp.Items = append(fp.Items, fi)
		}
		filled.Pages = append(filled.Pages, fp)
	}
	return filled
}

// deriveYesNoValue fills the textual ja/nein value for checked yes/no items
// that came back without one.
func deriveYesNoValue(fi *FilledItem) {
	if fi.Answer.Checked == nil || fi.Answer.Value.IsSet() {
		return
	}
	switch fi.Inferred {
	case TypeYesNo, TypeYesNoWithDetails:
		if *fi.Answer.Checked {
			fi.Answer.Value = StringValue("ja")
		} else {
			fi.Answer.Value = StringValue("nein")
		}
	}
}

// ItemByID finds a filled item across all pages.
func (f *FilledProtocol) ItemByID(id int) *FilledItem {
	for pi := range f.Pages {
		for ii := range f.Pages[pi].Items {
			if f.Pages[pi].Items[ii].ID == id {
				return &f.Pages[pi].Items[ii]
			}
		}
	}
	return nil
}

// Items returns all filled items in template order.
func (f *FilledProtocol) Items() []*FilledItem {
	var items []*FilledItem
	for pi := range f.Pages {
		for ii := range f.Pages[pi].Items {
			items = append(items, &f.Pages[pi].Items[ii])
		}
	}
	return items
}

// MinimalItem is the slim delivery rendering of one item.
type MinimalItem struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Position int    `json:"position"`
	Checked  *bool  `json:"checked"`
	Value    Value  `json:"value"`
	Notes    string `json:"notes,omitempty"`
}

// MinimalPage is the slim delivery rendering of one page.
type MinimalPage struct {
	ID       int           `json:"id"`
	Name     string        `json:"name"`
	Position int           `json:"position"`
	Items    []MinimalItem `json:"prompts"`
}

// MinimalProtocol is the delivery format: template identity plus per-item
// results, without confidence or evidence internals.
type MinimalProtocol struct {
	ID             int           `json:"id"`
	Name           string        `json:"name"`
	CampaignID     string        `json:"campaign_id,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Pages          []MinimalPage `json:"pages"`
}

// Minimal projects the filled protocol into its delivery form.
func (f *FilledProtocol) Minimal() *MinimalProtocol {
	m := &MinimalProtocol{
		ID:             f.ID,
		Name:           f.Name,
		CampaignID:     f.CampaignID,
		ConversationID: f.ConversationID,
	}
	for pi, page := range f.Pages {
		mp := MinimalPage{ID: page.ID, Name: page.Name, Position: pi + 1}
		for ii, item := range page.Items {
			mp.Items = append(mp.Items, MinimalItem{
				ID:       item.ID,
				Question: item.Question,
				Position: ii + 1,
				Checked:  item.Answer.Checked,
				Value:    item.Answer.Value,
				Notes:    item.Answer.Notes,
			})
		}
		m.Pages = append(m.Pages, mp)
	}
	return m
}

package zohocrm

import (
	"context"
	"net/url"

	"github.com/rotisserie/eris"
)

// RelatedList is one entry of the module's related-list metadata.
type RelatedList struct {
	APIName      string `json:"api_name"`
	DisplayLabel string `json:"display_label"`
	Name         string `json:"name"`
	Module       struct {
		APIName string `json:"api_name"`
	} `json:"module"`
}

// Field is one entry of the module's field metadata.
type Field struct {
	APIName    string `json:"api_name"`
	FieldLabel string `json:"field_label"`
	DataType   string `json:"data_type"`
}

// RelatedLists returns the related-list metadata of a module.
func RelatedLists(ctx context.Context, c Client, module string) ([]RelatedList, error) {
	q := url.Values{}
	q.Set("module", module)

	var resp struct {
		RelatedLists []RelatedList `json:"related_lists"`
	}
	if err := c.Get(ctx, "settings/related_lists", q, &resp); err != nil {
		return nil, eris.Wrapf(err, "zohocrm: related lists for %s", module)
	}
	return resp.RelatedLists, nil
}

// Fields returns the field metadata of a module.
func Fields(ctx context.Context, c Client, module string) ([]Field, error) {
	q := url.Values{}
	q.Set("module", module)

	var resp struct {
		Fields []Field `json:"fields"`
	}
	if err := c.Get(ctx, "settings/fields", q, &resp); err != nil {
		return nil, eris.Wrapf(err, "zohocrm: fields for %s", module)
	}
	return resp.Fields, nil
}

// RelatedRecords lists the rows of a record's related list. A 204 yields an
// empty slice.
func RelatedRecords(ctx context.Context, c Client, module, id, list string) ([]map[string]any, error) {
	var resp recordsPage
	endpoint := module + "/" + url.PathEscape(id) + "/" + url.PathEscape(list)
	if err := c.Get(ctx, endpoint, nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "zohocrm: related %s for %s", list, id)
	}
	return resp.Data, nil
}
